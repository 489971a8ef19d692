package ingest

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/lanikai/camingest/internal/rtp"
)

var playoutLog = log.WithTag("playout")

// Node is the Access Unit Node interface of spec.md §9: a tagged-variant
// substitute realized as an interface with two operations, insertPacket and
// assembledBytes, plus the scheduling state the generic Playout Buffer needs
// to manage regardless of codec.
type Node interface {
	// InsertPacket adds pb to the node. pb is ordered by extended sequence
	// number; duplicates are rejected. The node takes ownership of pb: a
	// rejected packet is returned to its pool at once, and a kept one is
	// returned by release.
	InsertPacket(pb *packetBuffer)

	// Ready reports whether the node has validated as complete and its
	// compressed buffer has been assembled.
	Ready() bool

	// AssembledBytes returns the node's immutable Annex-B compressed
	// buffer. Valid only once Ready() is true.
	AssembledBytes() []byte

	// IsIDR reports whether the assembled access unit contains an IDR
	// slice.
	IsIDR() bool

	// Timestamp returns the node's extended RTP timestamp.
	Timestamp() uint64

	// PresentationTime returns the arrival time of the node's first
	// packet.
	PresentationTime() time.Time

	// release returns every packetBuffer held by the node to its pool.
	release()
}

// NodeFactory creates a new, empty Node for an access unit with the given
// extended timestamp. The playout buffer is parameterized by the concrete
// node factory rather than dispatching on a codec tag (spec.md §9).
type NodeFactory func(extTS uint64) Node

// nodeEntry couples a Node with its scheduling state in the sorted list.
type nodeEntry struct {
	node         Node
	playoutTime  time.Time
	creationTime time.Time
	delayCount   int
}

// PlayoutBuffer is the generic reordering and bounded-delay scheduler of
// spec.md §4.5. It owns an input queue, RTP source state, a time-ordered
// list of Access Unit nodes, and a worker goroutine.
type PlayoutBuffer struct {
	queue   *InputQueue
	source  *rtp.SourceState
	factory NodeFactory
	sink    Sink

	fps       int
	clockRate uint32
	maxDelay  int // in units of 1/(2*fps) seconds, per spec.md §9

	counters *Counters

	mu                  sync.Mutex
	nodes               *list.List // of *nodeEntry, sorted by extended timestamp ascending
	lastPlayedTimestamp uint64
	havePlayedTimestamp bool
}

// NewPlayoutBuffer wires a playout buffer over queue, emitting ready nodes
// to sink. fps and clockRate parameterize both scheduling and the RTP
// timestamp wrap window (spec.md §4.4).
func NewPlayoutBuffer(queue *InputQueue, factory NodeFactory, sink Sink, fps int, clockRate uint32, maxDelay int, counters *Counters) *PlayoutBuffer {
	return &PlayoutBuffer{
		queue:     queue,
		source:    &rtp.SourceState{FPS: fps, ClockRate: clockRate},
		factory:   factory,
		sink:      sink,
		fps:       fps,
		clockRate: clockRate,
		maxDelay:  maxDelay,
		counters:  counters,
		nodes:     list.New(),
	}
}

func (pb *PlayoutBuffer) tickInterval() time.Duration {
	return time.Second / time.Duration(2*pb.fps)
}

// Run drives the playout worker loop until ctx is cancelled, per spec.md
// §4.5/§5: drain the input queue, then scan ready/overdue nodes, then sleep
// until the earliest wakeup condition.
func (pb *PlayoutBuffer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			pb.drainRemaining()
			return
		default:
		}

		pb.drainInput()
		pb.playout()

		deadline := pb.nextWakeup()
		pb.queue.Wait(deadline)

		select {
		case <-ctx.Done():
			pb.drainRemaining()
			return
		default:
		}
	}
}

// drainInput consumes every buffered packet, per spec.md §4.5 step 1.
func (pb *PlayoutBuffer) drainInput() {
	for {
		buf, ok := pb.queue.Get()
		if !ok {
			return
		}
		pb.ingest(buf)
	}
}

func (pb *PlayoutBuffer) ingest(buf *packetBuffer) {
	extSeq, accept := pb.source.Update(buf.header.Sequence)
	if !accept {
		releaseToPool(buf)
		pb.counters.incDropped()
		return
	}
	buf.extSeq = extSeq
	buf.extTS = pb.source.UpdateTimestamp(buf.header.Timestamp)

	pb.mu.Lock()
	if pb.havePlayedTimestamp && buf.extTS <= pb.lastPlayedTimestamp {
		pb.mu.Unlock()
		releaseToPool(buf)
		pb.counters.incFramesLate()
		return
	}

	entry := pb.findNode(buf.extTS)
	if entry == nil {
		node := pb.factory(buf.extTS)
		entry = &nodeEntry{
			node:         node,
			playoutTime:  buf.arrival.Add(time.Second / time.Duration(pb.fps)),
			creationTime: buf.arrival,
		}
		pb.insertNode(entry)
	}
	pb.mu.Unlock()

	entry.node.InsertPacket(buf)
}

// findNode returns the existing entry for extTS, or nil. Caller holds pb.mu.
func (pb *PlayoutBuffer) findNode(extTS uint64) *nodeEntry {
	for e := pb.nodes.Front(); e != nil; e = e.Next() {
		ne := e.Value.(*nodeEntry)
		if ne.node.Timestamp() == extTS {
			return ne
		}
	}
	return nil
}

// insertNode inserts entry into the timestamp-sorted list. Caller holds
// pb.mu.
func (pb *PlayoutBuffer) insertNode(entry *nodeEntry) {
	for e := pb.nodes.Back(); e != nil; e = e.Prev() {
		if entry.node.Timestamp() > e.Value.(*nodeEntry).node.Timestamp() {
			pb.nodes.InsertAfter(entry, e)
			return
		}
	}
	pb.nodes.PushFront(entry)
}

// playout scans head-of-list nodes whose scheduled playout time has passed,
// per spec.md §4.5 step 2.
func (pb *PlayoutBuffer) playout() {
	now := time.Now()

	for {
		pb.mu.Lock()
		front := pb.nodes.Front()
		if front == nil {
			pb.mu.Unlock()
			return
		}
		entry := front.Value.(*nodeEntry)
		if entry.playoutTime.After(now) {
			pb.mu.Unlock()
			return
		}

		if entry.node.Ready() {
			pb.nodes.Remove(front)
			pb.lastPlayedTimestamp = entry.node.Timestamp()
			pb.havePlayedTimestamp = true
			pb.mu.Unlock()

			pb.counters.incNodesEmitted()
			pb.sink.Put(entry.node)
			continue
		}

		entry.delayCount++
		if entry.delayCount < pb.maxDelay {
			entry.playoutTime = entry.playoutTime.Add(pb.tickInterval())
			pb.mu.Unlock()
			return
		}

		pb.nodes.Remove(front)
		pb.lastPlayedTimestamp = entry.node.Timestamp()
		pb.havePlayedTimestamp = true
		pb.mu.Unlock()

		entry.node.release()
		pb.counters.incNodesDropped()
		playoutLog.Debug("dropped node ts=%d after %d delay ticks", entry.node.Timestamp(), entry.delayCount)
	}
}

// nextWakeup returns the earliest scheduled playout time among pending
// nodes, bounded to a sane maximum so the worker periodically re-checks
// cancellation even with an empty list.
func (pb *PlayoutBuffer) nextWakeup() time.Time {
	const idle = 8 * time.Second

	pb.mu.Lock()
	defer pb.mu.Unlock()

	next := time.Now().Add(idle)
	for e := pb.nodes.Front(); e != nil; e = e.Next() {
		pt := e.Value.(*nodeEntry).playoutTime
		if pt.Before(next) {
			next = pt
		}
	}
	return next
}

// drainRemaining releases every outstanding node on shutdown.
func (pb *PlayoutBuffer) drainRemaining() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	for e := pb.nodes.Front(); e != nil; e = e.Next() {
		e.Value.(*nodeEntry).node.release()
	}
	pb.nodes.Init()
}

func releaseToPool(buf *packetBuffer) {
	if buf.owner != nil {
		buf.owner.release(buf)
	}
}
