package ingest

import (
	"testing"
	"time"

	"github.com/lanikai/camingest/internal/rtp"
)

// makeTestPacket builds a packetBuffer carrying payload at extended sequence
// extSeq, optionally marking it as the last packet of its access unit.
func makeTestPacket(extSeq uint64, payload []byte, marker bool) *packetBuffer {
	pb := &packetBuffer{}
	pb.payloadOffset = 0
	pb.length = copy(pb.raw[:], payload)
	pb.extSeq = extSeq
	pb.arrival = time.Now()
	pb.header.Marker = marker
	return pb
}

func TestH264NodeSingleNAL(t *testing.T) {
	cache := &H264ParamCache{}
	counters := &Counters{}
	factory := NewH264NodeFactory(cache, counters)

	node := factory(1000)

	// A single IDR slice NAL, marker set, is a complete access unit on its
	// own.
	payload := append([]byte{byte(rtp.NALTypeIDRSlice)}, []byte{0xAA, 0xBB, 0xCC}...)
	node.InsertPacket(makeTestPacket(0, payload, true))

	if !node.Ready() {
		t.Fatal("expected node to be ready after single marked NAL")
	}
	if !node.IsIDR() {
		t.Fatal("expected node to be recognized as IDR")
	}

	want := append(append([]byte{}, startCode...), payload...)
	got := node.AssembledBytes()
	if string(got) != string(want) {
		t.Fatalf("assembled bytes mismatch:\n got=% x\nwant=% x", got, want)
	}
}

func TestH264NodeFUAReassembly(t *testing.T) {
	cache := &H264ParamCache{}
	counters := &Counters{}
	factory := NewH264NodeFactory(cache, counters)

	node := factory(2000)

	indicator := byte(rtp.NALTypeFUA) // forbidden=0, NRI=0 for simplicity

	startHeader := rtp.FUHeader{Start: true, Type: rtp.NALTypeNonIDRSlice}.Encode()
	midHeader := rtp.FUHeader{Type: rtp.NALTypeNonIDRSlice}.Encode()
	endHeader := rtp.FUHeader{End: true, Type: rtp.NALTypeNonIDRSlice}.Encode()

	startPkt := makeTestPacket(0, []byte{indicator, startHeader, 0x01, 0x02}, false)
	midPkt := makeTestPacket(1, []byte{indicator, midHeader, 0x03, 0x04}, false)
	endPkt := makeTestPacket(2, []byte{indicator, endHeader, 0x05}, true)

	// Insert out of order to exercise the sorted-insert path.
	node.InsertPacket(midPkt)
	if node.Ready() {
		t.Fatal("node should not be ready before the End fragment arrives")
	}
	node.InsertPacket(startPkt)
	node.InsertPacket(endPkt)

	if !node.Ready() {
		t.Fatal("expected node to be ready once all FU-A fragments are present")
	}

	reconstructedHeader := rtp.ReconstructNALHeader(indicator, rtp.FUHeader{Start: true, Type: rtp.NALTypeNonIDRSlice})
	want := append([]byte{}, startCode...)
	want = append(want, reconstructedHeader)
	want = append(want, 0x01, 0x02, 0x03, 0x04, 0x05)

	got := node.AssembledBytes()
	if string(got) != string(want) {
		t.Fatalf("assembled bytes mismatch:\n got=% x\nwant=% x", got, want)
	}
	if node.IsIDR() {
		t.Fatal("non-IDR slice should not be flagged as IDR")
	}
}

func TestH264NodeDropsPacketAfterReady(t *testing.T) {
	cache := &H264ParamCache{}
	counters := &Counters{}
	factory := NewH264NodeFactory(cache, counters)

	node := factory(3000)
	payload := []byte{byte(rtp.NALTypeIDRSlice), 0x01}

	node.InsertPacket(makeTestPacket(5, payload, true))
	if !node.Ready() {
		t.Fatal("expected node ready after first insert")
	}

	// A second packet arriving for an already-ready node must be dropped,
	// not appended.
	node.InsertPacket(makeTestPacket(6, payload, true))
	if len(node.AssembledBytes()) != len(startCode)+len(payload) {
		t.Fatal("late packet should not have been merged into an assembled node")
	}
}
