package rtp

import "time"

// RTP source sequence/timestamp wrap tracking, per RFC 3550 Appendix A.1 and
// its timestamp analogue. One SourceState exists per {receiver, payload
// type} pair.

const (
	// seqMod is the modulus of the 16-bit sequence number space.
	seqMod = 1 << 16

	// maxDropout bounds how far a sequence number may jump forward and
	// still be accepted as an ordinary gap (loss) rather than a reset.
	maxDropout = 3000

	// maxMisorder bounds how far a sequence number may appear to jump
	// backward (viewed as a large forward jump, mod seqMod) and still be
	// accepted as reordering/duplication rather than a sender restart.
	maxMisorder = 100

	// defaultMinSequential is the number of consecutive in-order packets required
	// before a newly (re)booted source is considered valid. The original
	// implementation this is grounded on sets this to 0, disabling
	// probation; kept as the default here, overridable by configuration.
	defaultMinSequential = 0

	// timestampMod is the modulus of the 32-bit RTP timestamp space.
	timestampMod = uint64(1) << 32
)

// SourceState tracks the extended (wrap-resolved) sequence number and RTP
// timestamp for one RTP source, following RFC 3550 Appendix A.1.
type SourceState struct {
	// MinSequential configures the probation window. Zero disables
	// probation entirely (the first packet boots the source immediately).
	MinSequential uint32

	// FPS and ClockRate parameterize the timestamp dropout window, per
	// spec: MAX_DROPOUT_TIMELINE = MAX_DROPOUT / fps * clockRate.
	FPS       int
	ClockRate uint32

	baseSeq uint32
	maxSeq  uint16
	cycles  uint64
	badSeq  uint32
	probation uint32

	maxTime       uint32
	timeCycles    uint64
	timeInitialized bool

	initialized bool

	received uint32
}

// maxDropoutTimeline computes MAX_DROPOUT_TIMELINE = MAX_DROPOUT/fps*clockRate.
func (s *SourceState) maxDropoutTimeline() uint32 {
	fps := s.FPS
	if fps <= 0 {
		fps = 1
	}
	return uint32(maxDropout/fps) * s.ClockRate
}

// bootSource initializes the state machine as if seq were the first packet
// of a fresh source, per rtp_init_seq/rtp_boot_source.
func (s *SourceState) bootSource(seq uint16) {
	s.baseSeq = uint32(seq)
	s.maxSeq = seq
	s.badSeq = seqMod + 1 // so seq == badSeq is never true
	s.cycles = 0
	s.received = 0
	s.probation = s.MinSequential
	s.initialized = true
}

// Update applies one received packet's 16-bit sequence number to the state
// machine and reports whether the packet should be accepted, along with its
// extended (64-bit) sequence number. Extended sequence is computed as
// cycles + seq, with cycles updated before it is read for this same packet
// (see SPEC_FULL.md §9 / spec.md §9 — do not apply a correction when
// seq > maxSeq; that alternative is deliberately not implemented).
func (s *SourceState) Update(seq uint16) (extSeq uint64, accept bool) {
	if !s.initialized {
		s.bootSource(seq)
	}

	if s.probation > 0 {
		if seq == s.maxSeq+1 {
			s.probation--
			s.maxSeq = seq
			if s.probation == 0 {
				s.bootSource(seq)
				s.probation = 0
				s.received++
				return s.extendedSeq(seq), true
			}
		} else {
			// Mirrors the original's MIN_SEQUENTIAL-1 re-arm, including its
			// unsigned underflow to a very large value when MinSequential is
			// 0 (the default) — harmless since probation is already 0 in
			// that configuration and this branch is then unreachable.
			s.probation = s.MinSequential - 1
			s.maxSeq = seq
		}
		return 0, false
	}

	udelta := seq - s.maxSeq
	switch {
	case uint32(udelta) < maxDropout:
		if seq < s.maxSeq {
			// Sequence number wrapped; count another 64K cycle.
			s.cycles += seqMod
		}
		s.maxSeq = seq
	case uint32(udelta) <= seqMod-maxMisorder:
		// Large forward jump.
		if uint32(seq) == s.badSeq {
			// Two sequential bad packets: the sender restarted. Re-sync as
			// if this were the first packet of a new source.
			s.bootSource(seq)
		} else {
			s.badSeq = uint32(trunc(uint64(seq)+1, 16))
			return 0, false
		}
	default:
		// Duplicate or reordered packet within the misorder window; accept
		// without touching maxSeq/cycles.
	}

	s.received++
	return s.extendedSeq(seq), true
}

func (s *SourceState) extendedSeq(seq uint16) uint64 {
	return s.cycles + uint64(seq)
}

// UpdateTimestamp applies one received packet's 32-bit RTP timestamp to the
// wrap-cycle tracker and returns the extended (64-bit) timestamp. Unlike
// Update, a timestamp is never itself rejected here — timestamp wrap
// tracking only ever widens the window, it does not gate acceptance (that is
// the sequence-number state machine's job).
func (s *SourceState) UpdateTimestamp(ts uint32) (extTS uint64) {
	if !s.timeInitialized {
		s.maxTime = ts
		s.timeInitialized = true
	}

	udelta := ts - s.maxTime
	if udelta < s.maxDropoutTimeline() {
		if ts < s.maxTime {
			s.timeCycles += timestampMod
		}
		s.maxTime = ts
	}

	return s.timeCycles + uint64(ts)
}

// ArrivalTime is a monotonic receipt timestamp (spec.md §3); it is a plain
// time.Time, at whatever resolution the clock reading carries.
type ArrivalTime = time.Time
