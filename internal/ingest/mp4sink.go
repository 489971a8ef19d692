package ingest

import (
	"encoding/binary"
	"os"
	"sync"
	"time"

	errors "golang.org/x/xerrors"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
)

// MP4Sink muxes ready H.264 access units into an MP4 container with joy4,
// dropping every leading access unit until the first IDR frame establishes
// the stream's SPS/PPS codec data. Grounded on CMp4Recorder::processVideoFrame
// (store/mp4_recorder.cpp): "Drop leading non-key frames" until m_hrPts is
// set by the first successfully written video frame; incrUnsupportedFrame's
// counter analogue here is Counters.MP4LeadDropped.
type MP4Sink struct {
	file      *os.File
	muxer     *mp4.Muxer
	cache     *H264ParamCache
	clockRate uint32
	counters  *Counters

	base *baseSink

	mu        sync.Mutex
	started   bool
	baseTS    uint64
	auxTracks []av.CodecData
}

// NewMP4Sink creates (truncating) path and returns an MP4-muxing Sink. cache
// supplies the SPS/PPS observed in-band by the camera's playout buffer.
func NewMP4Sink(path string, cache *H264ParamCache, clockRate uint32, counters *Counters) (*MP4Sink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Errorf("mp4 sink: open %s: %w", path, err)
	}
	s := &MP4Sink{
		file:      f,
		muxer:     mp4.NewMuxer(f),
		cache:     cache,
		clockRate: clockRate,
		counters:  counters,
	}
	s.base = newBaseSink(s.writeNode)
	return s, nil
}

func (s *MP4Sink) writeNode(node Node) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if !started {
		if !node.IsIDR() {
			s.counters.incMP4LeadDropped()
			return nil
		}
		sps, pps, ok := s.cache.raw()
		if !ok {
			s.counters.incMP4LeadDropped()
			return nil
		}
		videoCodec, err := h264parser.NewCodecDataFromSPSAndPPS(sps, pps)
		if err != nil {
			return errors.Errorf("mp4 sink: parse SPS/PPS: %w", err)
		}

		s.mu.Lock()
		codecs := append([]av.CodecData{videoCodec}, s.auxTracks...)
		s.mu.Unlock()

		if err := s.muxer.WriteHeader(codecs); err != nil {
			return errors.Errorf("mp4 sink: write header: %w", err)
		}

		s.mu.Lock()
		s.started = true
		s.baseTS = node.Timestamp()
		s.mu.Unlock()
	}

	s.mu.Lock()
	baseTS := s.baseTS
	s.mu.Unlock()

	elapsed := time.Duration(node.Timestamp()-baseTS) * time.Second / time.Duration(s.clockRate)
	pkt := av.Packet{
		Idx:        0,
		IsKeyFrame: node.IsIDR(),
		Time:       elapsed,
		Data:       annexBToAVCC(node.AssembledBytes()),
	}
	return s.muxer.WritePacket(pkt)
}

// AddAuxTrack registers an additional non-video track (e.g. audio or
// subtitles) to be muxed alongside the primary H.264 video track. It must
// be called before the MP4 header is written, which happens lazily on the
// first IDR access unit the sink receives; once that header is written
// joy4's muxer no longer accepts new tracks. Grounded on
// CMp4Recorder::insertAudioTrack/insertSubtitleTrack (store/mp4_recorder.cpp):
// the original recorder could attach extra tracks to a recording already in
// progress. Actually producing audio/subtitle packets is out of scope here;
// this wires the plumbing a future source would call into.
func (s *MP4Sink) AddAuxTrack(codec av.CodecData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("mp4 sink: cannot add a track after the header has been written")
	}
	s.auxTracks = append(s.auxTracks, codec)
	return nil
}

func (s *MP4Sink) Put(node Node) { s.base.Put(node) }

func (s *MP4Sink) Close() error {
	err := s.base.Close()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		if terr := s.muxer.WriteTrailer(); terr != nil && err == nil {
			err = terr
		}
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// annexBToAVCC rewrites a start-code-delimited Annex-B buffer into the
// length-prefixed record format joy4's mp4 muxer expects.
func annexBToAVCC(data []byte) []byte {
	out := make([]byte, 0, len(data))
	var lenBuf [4]byte
	for _, nal := range splitAnnexB(data) {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nal)))
		out = append(out, lenBuf[:]...)
		out = append(out, nal...)
	}
	return out
}

func splitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	start := -1
	for i := 0; i+3 < len(data); {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			if start >= 0 {
				nals = append(nals, data[start:i])
			}
			i += 4
			start = i
			continue
		}
		i++
	}
	if start >= 0 {
		nals = append(nals, data[start:])
	}
	return nals
}
