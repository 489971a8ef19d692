package rtp

// H.264 NAL unit types and the RTP payload format for them, per RFC 6184.
// Constants and bit layout are grounded on the original module's h264.h.

// NAL unit types, identified by the low 5 bits of the first payload byte.
const (
	NALTypeNonIDRSlice     = 0x01
	NALTypeDPASlice        = 0x02
	NALTypeDPBSlice        = 0x03
	NALTypeDPCSlice        = 0x04
	NALTypeIDRSlice        = 0x05
	NALTypeSEI             = 0x06
	NALTypeSPS             = 0x07
	NALTypePPS             = 0x08
	NALTypeAccessUnit      = 0x09
	NALTypeEndOfSeq        = 0x0A
	NALTypeEndOfStream     = 0x0B
	NALTypeFillerData      = 0x0C
	NALTypeSeqExtension    = 0x0D
	NALTypePrefix          = 0x0E
	NALTypeSubsetSeqParam  = 0x0F
	NALTypeAuxPic          = 0x13
	NALTypeScalableExtSlice = 0x14
	NALTypeSTAPA           = 0x18
	NALTypeSTAPB           = 0x19
	NALTypeMTAP16          = 0x1A
	NALTypeMTAP24          = 0x1B
	NALTypeFUA             = 0x1C
	NALTypeFUB             = 0x1D
)

// NALType extracts the 5-bit NAL unit type from a NAL header byte.
func NALType(b byte) byte {
	return b & 0x1f
}

// NALIsSlice reports whether nalType is one of the coded-slice NAL types
// (1..5), i.e. a type that carries video data and can set the "last of
// access unit" marker bit.
func NALIsSlice(nalType byte) bool {
	return nalType >= NALTypeNonIDRSlice && nalType <= NALTypeIDRSlice
}

// NALIsRTPAggregationOrFragmentation reports whether nalType is one of the
// RTP-only aggregation/fragmentation pseudo-NAL-types (24..29): STAP-A/B,
// MTAP16/24, FU-A/B.
func NALIsRTPAggregationOrFragmentation(nalType byte) bool {
	return nalType >= NALTypeSTAPA && nalType <= NALTypeFUB
}

// FUHeader decodes the second byte of an FU-A payload (the first being the
// FU indicator, an ordinary NAL header byte with type=NALTypeFUA):
//    0 1 2 3 4 5 6 7
//   +-+-+-+-+-+-+-+-+
//   |S|E|R|  Type   |
//   +-+-+-+-+-+-+-+-+
type FUHeader struct {
	Start bool
	End   bool
	Type  byte
}

func DecodeFUHeader(b byte) FUHeader {
	return FUHeader{
		Start: b&0x80 != 0,
		End:   b&0x40 != 0,
		Type:  b & 0x1f,
	}
}

func (h FUHeader) Encode() byte {
	v := h.Type & 0x1f
	if h.Start {
		v |= 0x80
	}
	if h.End {
		v |= 0x40
	}
	return v
}

// ReconstructNALHeader rebuilds the original NAL header byte for a
// fragmented NAL unit from its FU indicator (forbidden bit + NRI, low 5 bits
// ignored) and FU header (reconstructed type).
func ReconstructNALHeader(indicator byte, header FUHeader) byte {
	return (indicator & 0xe0) | (header.Type & 0x1f)
}
