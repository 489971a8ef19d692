package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/lanikai/camingest/internal/rtp"
)

var h264Log = log.WithTag("h264")

// maxParamSetSize bounds the in-band SPS/PPS cache, per spec.md §4.6 ("a
// bounded 1 KiB cache for each of SPS and PPS").
const maxParamSetSize = 1024

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264ParamCache holds the most recently observed in-band SPS and PPS NAL
// payloads for one camera. It is shared by every node a camera's NodeFactory
// creates, since SPS/PPS usually arrive on a keyframe's access unit and must
// be prepended to every subsequent access unit that lacks its own copy
// (spec.md §4.6, grounded on rtp_playout_buffer_h264.cpp's setSps/setPps).
type H264ParamCache struct {
	mu  sync.Mutex
	sps []byte
	pps []byte
}

func (c *H264ParamCache) setSPS(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sps = append(c.sps[:0], truncateParam(payload)...)
}

func (c *H264ParamCache) setPPS(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pps = append(c.pps[:0], truncateParam(payload)...)
}

func truncateParam(b []byte) []byte {
	if len(b) > maxParamSetSize {
		return b[:maxParamSetSize]
	}
	return b
}

// raw returns the cached SPS and PPS payloads (without start codes), and
// whether both have been observed at least once.
func (c *H264ParamCache) raw() (sps, pps []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sps) == 0 || len(c.pps) == 0 {
		return nil, nil, false
	}
	sps = append([]byte(nil), c.sps...)
	pps = append([]byte(nil), c.pps...)
	return sps, pps, true
}

// prefix returns a copy of the Annex-B encoded SPS+PPS, each preceded by a
// start code, or nil if neither has ever been seen.
func (c *H264ParamCache) prefix() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sps) == 0 && len(c.pps) == 0 {
		return nil
	}
	out := make([]byte, 0, len(c.sps)+len(c.pps)+2*len(startCode))
	if len(c.sps) > 0 {
		out = append(out, startCode...)
		out = append(out, c.sps...)
	}
	if len(c.pps) > 0 {
		out = append(out, startCode...)
		out = append(out, c.pps...)
	}
	return out
}

const (
	nodeFlagLast = 1 << iota
	nodeFlagParams
	nodeFlagIDR
	nodeFlagReady
)

// h264Node is the H.264 Access Unit Node of spec.md §4.6: it accumulates
// the RTP packets of one access unit (keyed by extended timestamp) in
// sequence order, validates the set once the marker bit closes the access
// unit, and assembles an Annex-B compressed buffer on success. Grounded on
// CRtpPlayoutNodeH264 (rtp_playout_buffer_h264.cpp).
type h264Node struct {
	extTS    uint64
	cache    *H264ParamCache
	counters *Counters

	mu       sync.Mutex
	packets  []*packetBuffer // sorted by extended sequence number
	flags    int
	data     []byte
	firstArr time.Time
}

// NewH264NodeFactory returns a NodeFactory producing h264Node instances that
// share cache for in-band SPS/PPS caching.
func NewH264NodeFactory(cache *H264ParamCache, counters *Counters) NodeFactory {
	return func(extTS uint64) Node {
		return &h264Node{extTS: extTS, cache: cache, counters: counters}
	}
}

func (n *h264Node) Timestamp() uint64 { return n.extTS }

func (n *h264Node) PresentationTime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.firstArr
}

func (n *h264Node) Ready() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flags&nodeFlagReady != 0
}

func (n *h264Node) IsIDR() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flags&nodeFlagIDR != 0
}

func (n *h264Node) AssembledBytes() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.data
}

// String renders a one-line summary of the node's accumulated state, for
// Debug-level log lines (grounded on the original module's dumpRtpFrame).
func (n *h264Node) String() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stringLocked()
}

// stringLocked is String's body for callers that already hold n.mu.
func (n *h264Node) stringLocked() string {
	return fmt.Sprintf("h264Node{ts=%d packets=%d flags=%#x bytes=%d}",
		n.extTS, len(n.packets), n.flags, len(n.data))
}

func (n *h264Node) release() {
	n.mu.Lock()
	packets := n.packets
	n.packets = nil
	n.mu.Unlock()
	for _, pb := range packets {
		releaseToPool(pb)
	}
}

// InsertPacket inserts pb in extended-sequence order, caches any in-band
// SPS/PPS it carries, and re-validates the node, building its compressed
// buffer once complete. Grounded on CRtpPlayoutNodeH264::insertFrame.
func (n *h264Node) InsertPacket(pb *packetBuffer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.flags&nodeFlagReady != 0 {
		// Late arrival for an already-assembled node; drop.
		h264Log.Debug("late packet seq=%d for %s, dropped", pb.extSeq, n.stringLocked())
		releaseToPool(pb)
		return
	}

	if len(n.packets) == 0 {
		n.firstArr = pb.arrival
	}

	i := len(n.packets)
	for i > 0 && n.packets[i-1].extSeq > pb.extSeq {
		i--
	}
	if i < len(n.packets) && n.packets[i].extSeq == pb.extSeq {
		// Duplicate packet.
		h264Log.Debug("duplicate packet seq=%d for %s, dropped", pb.extSeq, n.stringLocked())
		releaseToPool(pb)
		return
	}
	n.packets = append(n.packets, nil)
	copy(n.packets[i+1:], n.packets[i:])
	n.packets[i] = pb

	payload := pb.payload()
	if len(payload) == 0 {
		return
	}
	nalType := rtp.NALType(payload[0])

	switch nalType {
	case rtp.NALTypeSPS:
		n.cache.setSPS(payload)
		n.flags |= nodeFlagParams
	case rtp.NALTypePPS:
		n.cache.setPPS(payload)
		n.flags |= nodeFlagParams
	}

	if (rtp.NALIsSlice(nalType) || rtp.NALIsRTPAggregationOrFragmentation(nalType)) && pb.header.Marker {
		n.flags |= nodeFlagLast
	}

	if n.checkValid() {
		n.buildCompressed()
	}
}

// checkValid reports whether every packet is present with no sequence gap
// and FU-A fragments (if any) form exactly one Start...End run. Grounded on
// CRtpPlayoutNodeH264::checkNodeValid.
func (n *h264Node) checkValid() bool {
	if n.flags&nodeFlagLast == 0 {
		return false
	}
	if len(n.packets) == 0 {
		return false
	}

	haveStart, haveEnd := false, false
	expected := n.packets[0].extSeq

	for _, pb := range n.packets {
		if pb.extSeq != expected {
			return false
		}
		expected++

		payload := pb.payload()
		if len(payload) == 0 {
			return false
		}
		if rtp.NALType(payload[0]) != rtp.NALTypeFUA {
			continue
		}
		if len(payload) < 2 {
			return false
		}
		fu := rtp.DecodeFUHeader(payload[1])
		switch {
		case fu.Start:
			if haveStart || haveEnd {
				return false
			}
			haveStart = true
		case fu.End:
			if !haveStart || haveEnd {
				return false
			}
			haveEnd = true
		default:
			if !haveStart || haveEnd {
				return false
			}
		}
	}

	return haveStart == haveEnd
}

// buildCompressed assembles the node's packets into a single Annex-B
// buffer: SPS/PPS (if this access unit doesn't carry its own) followed by
// each NAL unit, each preceded by a start code. FU-A fragments are
// reassembled into a single reconstructed NAL header on the Start fragment.
// Grounded on CRtpPlayoutNodeH264::buildCompressed.
func (n *h264Node) buildCompressed() {
	var out []byte
	if n.flags&nodeFlagParams == 0 {
		if prefix := n.cache.prefix(); prefix != nil {
			out = append(out, prefix...)
		}
	}

	needSeparator := false
	for _, pb := range n.packets {
		payload := pb.payload()
		nalType := rtp.NALType(payload[0])

		if nalType == rtp.NALTypeFUA {
			if len(payload) < 2 {
				h264Log.Debug("malformed FU-A payload for %s, aborting assembly", n.stringLocked())
				n.counters.incUnsupportedNAL()
				return
			}
			fu := rtp.DecodeFUHeader(payload[1])
			if fu.Start {
				out = append(out, startCode...)
				header := rtp.ReconstructNALHeader(payload[0], fu)
				out = append(out, header)
				if fu.Type == rtp.NALTypeIDRSlice {
					n.flags |= nodeFlagIDR
				}
				needSeparator = false
			} else if needSeparator {
				out = append(out, startCode...)
				needSeparator = false
			}
			out = append(out, payload[2:]...)
			continue
		}

		if rtp.NALIsRTPAggregationOrFragmentation(nalType) {
			h264Log.Debug("unsupported aggregation NAL type %d for %s, aborting assembly", nalType, n.stringLocked())
			n.counters.incUnsupportedNAL()
			return
		}

		out = append(out, startCode...)
		out = append(out, payload...)
		needSeparator = false

		if nalType == rtp.NALTypeIDRSlice {
			n.flags |= nodeFlagIDR
		}
	}

	n.data = out
	n.flags |= nodeFlagReady
	h264Log.Debug("assembled %s", n.stringLocked())
}
