package rtp

import (
	"fmt"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/camingest/internal/packet"
)

// RTP Data Transfer Protocol, as defined in RFC 3550 Section 5.

// An RTP packet consists of a fixed 12-byte header, zero or more 32-bit CSRC
// identifiers, followed by the payload itself.
// See https://tools.ietf.org/html/rfc3550#section-5.1
//    0                   1                   2                   3
//    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//   |V=2|P|X|  CC   |M|     PT      |       sequence number         |
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//   |                           timestamp                           |
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//   |           synchronization source (SSRC) identifier            |
//   +=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+
//   |            contributing source (CSRC) identifiers             |
//   |                             ....                              |
//   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type Header struct {
	Padding     bool
	Extension   bool
	Marker      bool
	PayloadType byte
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
	CSRC        []uint32

	// Number of trailing padding bytes, valid when Padding is set. Not part
	// of the wire header; ReadFrom leaves it untouched, and the ingest
	// receiver fills it in from the packet's final byte.
	PadCount byte
}

const HeaderSize = 12

// String renders a one-line summary of the header, for Debug-level log
// lines (grounded on the original module's dumpRtpFrame).
func (h *Header) String() string {
	return fmt.Sprintf("rtp.Header{pt=%d seq=%d ts=%d ssrc=%#x marker=%t}",
		h.PayloadType, h.Sequence, h.Timestamp, h.SSRC, h.Marker)
}

// Length returns the size in bytes of the fixed header plus CSRC list, i.e.
// the offset of the payload within a decoded packet.
func (h *Header) Length() int {
	return HeaderSize + 4*len(h.CSRC)
}

func (h *Header) WriteTo(w *packet.Writer) {
	w.WriteByte(joinByte2114(rtpVersion, h.Padding, h.Extension, byte(len(h.CSRC))))
	w.WriteByte(joinByte17(h.Marker, h.PayloadType))
	w.WriteUint16(h.Sequence)
	w.WriteUint32(h.Timestamp)
	w.WriteUint32(h.SSRC)
	for i := range h.CSRC {
		w.WriteUint32(h.CSRC[i])
	}
}

// ReadFrom parses the RTP header in place, normalizing network byte order to
// host byte order for every multi-byte field and CSRC entry. It does not
// consume any extension header or payload bytes; callers that need the
// extension header must skip it explicitly via r.Skip before reading the
// payload.
func (h *Header) ReadFrom(r *packet.Reader) error {
	if err := r.CheckRemaining(HeaderSize); err != nil {
		return errors.Errorf("short RTP header: %v", err)
	}

	var version, csrcCount byte
	version, h.Padding, h.Extension, csrcCount = splitByte2114(r.ReadByte())
	if version != rtpVersion {
		return errBadVersion(version)
	}
	if err := r.CheckRemaining(HeaderSize - 1 + 4*int(csrcCount)); err != nil {
		return errors.Errorf("short RTP CSRC list: %v", err)
	}
	h.Marker, h.PayloadType = splitByte17(r.ReadByte())
	h.Sequence = r.ReadUint16()
	h.Timestamp = r.ReadUint32()
	h.SSRC = r.ReadUint32()
	h.CSRC = h.CSRC[:0]
	for i := 0; i < int(csrcCount); i++ {
		h.CSRC = append(h.CSRC, r.ReadUint32())
	}

	return nil
}
