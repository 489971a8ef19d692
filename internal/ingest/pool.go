package ingest

import (
	"sync"
	"time"

	"github.com/lanikai/camingest/internal/logging"
	"github.com/lanikai/camingest/internal/rtp"
)

var log = logging.DefaultLogger.WithTag("ingest")
var poolLog = log.WithTag("pool")

// maxPacketSize bounds a single RTP datagram, per spec.md §6 ("Maximum
// datagram size ≈ 2 KiB; larger datagrams are truncated and then fail
// validation").
const maxPacketSize = 2048

// packetBuffer is the RTP Packet Buffer of spec.md §3: a fixed-capacity byte
// buffer carrying an owning pool back-reference, real length after stripping
// RTP padding, arrival timestamp, extended sequence number, and decoded
// header fields.
type packetBuffer struct {
	owner *Pool

	raw    [maxPacketSize]byte
	length int // real length, after stripping RTP padding

	// payloadOffset is the byte offset of the payload within raw, i.e. past
	// the fixed header, CSRC list, and any extension header.
	payloadOffset int

	arrival time.Time
	extSeq  uint64
	extTS   uint64

	header rtp.Header
}

// payload returns the packet's payload bytes.
func (b *packetBuffer) payload() []byte {
	return b.raw[b.payloadOffset:b.length]
}

func (b *packetBuffer) reset() {
	b.owner = nil
	b.length = 0
	b.payloadOffset = 0
	b.arrival = time.Time{}
	b.extSeq = 0
	b.extTS = 0
	b.header = rtp.Header{}
}

// Pool is the Frame Pool of spec.md §4.1: a preallocated, bounded LIFO of
// packetBuffers. acquire() never blocks; exhaustion is reported so the
// receiver can drop the incoming datagram rather than stall.
type Pool struct {
	mu       sync.Mutex
	free     []*packetBuffer
	capacity int

	counters *Counters
}

// NewPool preallocates capacity buffers up front, per the "preallocated
// pool" contract of spec.md §2.
func NewPool(capacity int, counters *Counters) *Pool {
	p := &Pool{
		capacity: capacity,
		counters: counters,
	}
	p.free = make([]*packetBuffer, 0, capacity)
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, &packetBuffer{})
	}
	return p
}

// acquire returns a buffer reset to empty-owner state, or ok=false if the
// pool is exhausted. O(1), never blocks.
func (p *Pool) acquire() (buf *packetBuffer, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		p.counters.incPoolMiss()
		return nil, false
	}
	buf = p.free[n-1]
	p.free = p.free[:n-1]
	p.counters.incPoolHit()
	buf.reset()
	buf.owner = p
	return buf, true
}

// release returns a buffer to the pool, O(1). Releasing a buffer whose owner
// does not match this pool is a programming error and panics rather than
// silently corrupting the free list.
func (p *Pool) release(buf *packetBuffer) {
	if buf == nil {
		return
	}
	if buf.owner != p {
		panic("ingest: packetBuffer released to a pool it was not acquired from")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.capacity {
		// Should not happen if every acquired buffer is released exactly
		// once; drop rather than grow unbounded.
		poolLog.Warn("discarding over-release, free list already at capacity %d", p.capacity)
		return
	}
	buf.owner = nil
	p.free = append(p.free, buf)
}

// clear releases the pool's underlying memory. Only safe to call when no
// buffers are outstanding.
func (p *Pool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = nil
}
