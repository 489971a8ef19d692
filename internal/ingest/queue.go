package ingest

import (
	"sync"
	"time"
)

// InputQueue is the bounded FIFO of spec.md §4.3, sitting between a Receiver
// and one Playout Buffer for one payload type. Put is non-blocking; on
// overflow the newest packet is dropped (returned to its pool) and an
// overflow counter increments. Get is non-blocking and reports ok=false when
// the queue is drained.
type InputQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf   []*packetBuffer
	head  int
	count int

	counters *Counters
}

// NewInputQueue creates a queue with the given bounded capacity.
func NewInputQueue(capacity int, counters *Counters) *InputQueue {
	q := &InputQueue{
		buf:      make([]*packetBuffer, capacity),
		counters: counters,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *InputQueue) capacity() int {
	return len(q.buf)
}

// Put enqueues buf. If the queue is full, per spec.md §4.3's drop-newest
// policy the incoming buf itself is returned to the caller (who must
// release it to its pool) rather than evicting an older entry, and the
// overflow counter increments.
func (q *InputQueue) Put(buf *packetBuffer) (dropped *packetBuffer) {
	q.mu.Lock()
	if q.count == len(q.buf) {
		q.mu.Unlock()
		q.counters.incOverflow()
		return buf
	}

	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = buf
	q.count++
	depth := q.count
	q.cond.Signal()
	q.mu.Unlock()

	q.counters.recordEnqueue(depth, depth, time.Now())
	return nil
}

// Get dequeues the oldest buffered packet, or reports ok=false if the queue
// is empty. Never blocks.
func (q *InputQueue) Get() (buf *packetBuffer, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil, false
	}
	buf = q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return buf, true
}

// Len returns the current number of buffered packets.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Wait blocks until the queue becomes non-empty or until deadline, whichever
// comes first. Used by the playout worker's "wait on the earliest of {queue
// non-empty, earliest playout deadline}" loop (spec.md §5).
func (q *InputQueue) Wait(deadline time.Time) {
	timer := time.AfterFunc(time.Until(deadline), func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	if q.count == 0 && time.Now().Before(deadline) {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Wake unblocks any goroutine waiting in Wait, used for termination signals.
func (q *InputQueue) Wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
