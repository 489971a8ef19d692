package ingest

import (
	"context"
	"net"
	"sync"
	"time"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/camingest/internal/packet"
)

// recvTimeout bounds a single blocking UDP read, per spec.md §4.2 ("≤ 16 s
// timeout"). The Receiver worker re-checks its stop flag whenever the read
// times out, which is also this platform's substitute for the original's
// socket "breaker" primitive.
const recvTimeout = 16 * time.Second

// channel binds one payload type on a Receiver to the Playout Buffer that
// consumes it.
type channel struct {
	payloadType byte
	queue       *InputQueue
}

// Receiver owns a UDP socket bound to one local address, a worker
// goroutine, and a set of channels keyed by payload type (spec.md §3/§4.2).
type Receiver struct {
	addr *net.UDPAddr
	pool *Pool

	mu       sync.Mutex
	channels []channel
	conn     *net.UDPConn
	lastSeq  uint16
	haveSeq  bool

	counters *Counters

	stopped chan struct{}
	doneWG  sync.WaitGroup
}

var receiverLog = log.WithTag("receiver")

// NewReceiver creates a Receiver bound to addr, sharing pool across all
// receivers in a pool (spec.md §2, "Receiver Pool").
func NewReceiver(addr *net.UDPAddr, pool *Pool, counters *Counters) *Receiver {
	return &Receiver{
		addr:     addr,
		pool:     pool,
		counters: counters,
	}
}

// AddChannel routes packets with the given payload type to queue.
func (r *Receiver) AddChannel(payloadType byte, queue *InputQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c.payloadType == payloadType {
			receiverLog.Debug("duplicate channel for payload type %d ignored", payloadType)
			return
		}
	}
	r.channels = append(r.channels, channel{payloadType, queue})
}

// RemoveChannel drops the channel for payloadType. Returns an error if no
// such channel exists.
func (r *Receiver) RemoveChannel(payloadType byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.channels {
		if c.payloadType == payloadType {
			r.channels = append(r.channels[:i], r.channels[i+1:]...)
			return nil
		}
	}
	return errChannelNotFound
}

// NumChannels reports how many payload types this receiver currently routes.
func (r *Receiver) NumChannels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

var errChannelNotFound = errors.New("ingest: channel not found")

// Start binds the socket and launches the worker
// goroutine. Stopping is driven by ctx cancellation.
func (r *Receiver) Start(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", r.addr)
	if err != nil {
		return errors.Errorf("receiver: listen %s: %w", r.addr, err)
	}
	r.conn = conn
	r.stopped = make(chan struct{})

	r.doneWG.Add(1)
	go r.run(ctx)
	return nil
}

// Stop breaks the blocking receive by closing the socket, then joins the
// worker.
func (r *Receiver) Stop() {
	if r.conn != nil {
		r.conn.Close()
	}
	r.doneWG.Wait()
}

func (r *Receiver) run(ctx context.Context) {
	defer r.doneWG.Done()
	defer close(r.stopped)

	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pb, ok := r.pool.acquire()
		if !ok {
			r.counters.incAllocFail()
			time.Sleep(100 * time.Millisecond)
			continue
		}

		r.conn.SetReadDeadline(time.Now().Add(recvTimeout))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			r.pool.release(pb)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			// Socket closed (Stop) or other I/O error.
			if isClosedConnErr(err) {
				return
			}
			receiverLog.Warn("receive error: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		pb.arrival = time.Now()
		copy(pb.raw[:], buf[:n])
		pb.length = n

		if err := r.validateAndDecode(pb); err != nil {
			receiverLog.Debug("invalid RTP header from %s: %v", r.addr, err)
			r.pool.release(pb)
			r.counters.incInvalid()
			continue
		}

		r.updateLossCounter(pb.header.Sequence)
		r.route(pb)
	}
}

func isClosedConnErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// validateAndDecode decodes the RTP header in place (network to host byte
// order), strips trailing padding bytes from pb.length, and rejects packets
// with an impossible declared length or the wrong version, per spec.md
// §4.2 step 3.
func (r *Receiver) validateAndDecode(pb *packetBuffer) error {
	rd := packet.NewReader(pb.raw[:pb.length])
	if err := pb.header.ReadFrom(rd); err != nil {
		return err
	}

	offset := pb.header.Length()

	if pb.header.Extension {
		if err := rd.CheckRemaining(4); err != nil {
			return errors.Errorf("short extension header: %v", err)
		}
		rd.ReadUint16() // profile-specific identifier, not interpreted here
		wordCount := int(rd.ReadUint16())
		extBytes := 4 + 4*wordCount
		if err := pb.lengthCheck(offset, extBytes); err != nil {
			return err
		}
		offset += extBytes
	}

	if pb.header.Padding {
		if pb.length <= offset {
			return errors.New("padding bit set but no payload bytes")
		}
		padCount := int(pb.raw[pb.length-1])
		if pb.length-offset < padCount {
			return errors.New("padding count exceeds payload length")
		}
		pb.header.PadCount = byte(padCount)
		pb.length -= padCount
	}

	pb.payloadOffset = offset
	return nil
}

func (pb *packetBuffer) lengthCheck(offset, need int) error {
	if pb.length < offset+need {
		return errors.New("declared length exceeds real length")
	}
	return nil
}

// updateLossCounter accounts the "lost" counter from the delta between
// consecutive 16-bit sequence numbers seen by this receiver, per spec.md
// §4.2 step 4.
func (r *Receiver) updateLossCounter(seq uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveSeq {
		r.lastSeq = seq
		r.haveSeq = true
		return
	}
	expected := r.lastSeq + 1
	if seq != expected {
		delta := seq - expected
		if delta < maxDropoutSeq {
			r.counters.addLost(uint32(delta))
		}
	}
	r.lastSeq = seq
}

const maxDropoutSeq = 3000

// route scans the channel list for a payload type match and enqueues to
// that channel's input queue; otherwise the buffer is returned to the pool
// and a drop is counted, per spec.md §4.2 step 5.
func (r *Receiver) route(pb *packetBuffer) {
	r.mu.Lock()
	var q *InputQueue
	for _, c := range r.channels {
		if c.payloadType == pb.header.PayloadType {
			q = c.queue
			break
		}
	}
	r.mu.Unlock()

	if q == nil {
		receiverLog.Debug("no channel for %s, dropped", &pb.header)
		r.pool.release(pb)
		r.counters.incDropped()
		return
	}

	r.counters.incReceived()
	if dropped := q.Put(pb); dropped != nil {
		r.pool.release(dropped)
	}
}

// ReceiverPool indexes receivers by bind address, sharing one Frame Pool
// across all of them (spec.md §2/§4.2).
type ReceiverPool struct {
	pool *Pool

	mu        sync.Mutex
	receivers map[string]*Receiver
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewReceiverPool creates a pool of receivers sharing the given Frame Pool.
func NewReceiverPool(pool *Pool) *ReceiverPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReceiverPool{
		pool:      pool,
		receivers: make(map[string]*Receiver),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// InsertChannel creates a Receiver for addr on first use, then adds a
// channel for payloadType routing to queue.
func (rp *ReceiverPool) InsertChannel(addr *net.UDPAddr, payloadType byte, queue *InputQueue, counters *Counters) (*Receiver, error) {
	key := addr.String()

	rp.mu.Lock()
	r, ok := rp.receivers[key]
	if !ok {
		r = NewReceiver(addr, rp.pool, counters)
		rp.receivers[key] = r
	}
	rp.mu.Unlock()

	r.AddChannel(payloadType, queue)

	if !ok {
		if err := r.Start(rp.ctx); err != nil {
			rp.mu.Lock()
			delete(rp.receivers, key)
			rp.mu.Unlock()
			return nil, err
		}
	}
	return r, nil
}

// RemoveChannel drops payloadType from the receiver bound to addr, and the
// receiver itself once its channel set becomes empty.
func (rp *ReceiverPool) RemoveChannel(addr *net.UDPAddr, payloadType byte) error {
	key := addr.String()

	rp.mu.Lock()
	r, ok := rp.receivers[key]
	rp.mu.Unlock()
	if !ok {
		return errChannelNotFound
	}

	if err := r.RemoveChannel(payloadType); err != nil {
		return err
	}

	if r.NumChannels() == 0 {
		rp.mu.Lock()
		delete(rp.receivers, key)
		rp.mu.Unlock()
		r.Stop()
	}
	return nil
}

// Terminate signals every receiver's worker, unblocks each socket, joins,
// and closes, per spec.md §4.8.
func (rp *ReceiverPool) Terminate() {
	rp.cancel()

	rp.mu.Lock()
	receivers := make([]*Receiver, 0, len(rp.receivers))
	for _, r := range rp.receivers {
		receivers = append(receivers, r)
	}
	rp.receivers = make(map[string]*Receiver)
	rp.mu.Unlock()

	for _, r := range receivers {
		r.Stop()
	}
}
