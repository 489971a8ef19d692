package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceStateSequentialAccept(t *testing.T) {
	var s SourceState
	extSeq, ok := s.Update(100)
	assert.True(t, ok)
	assert.EqualValues(t, 100, extSeq)

	extSeq, ok = s.Update(101)
	assert.True(t, ok)
	assert.EqualValues(t, 101, extSeq)
}

func TestSourceStateSequenceWrap(t *testing.T) {
	var s SourceState
	_, ok := s.Update(65534)
	assert.True(t, ok)

	_, ok = s.Update(65535)
	assert.True(t, ok)

	extSeq, ok := s.Update(0)
	assert.True(t, ok)
	assert.EqualValues(t, seqMod, extSeq)

	extSeq, ok = s.Update(1)
	assert.True(t, ok)
	assert.EqualValues(t, seqMod+1, extSeq)
}

func TestSourceStateLossIsAccepted(t *testing.T) {
	var s SourceState
	_, ok := s.Update(10)
	assert.True(t, ok)

	extSeq, ok := s.Update(15)
	assert.True(t, ok)
	assert.EqualValues(t, 15, extSeq)
}

func TestSourceStateSenderRestart(t *testing.T) {
	var s SourceState
	_, ok := s.Update(40000)
	assert.True(t, ok)

	// A huge forward jump is rejected the first time (treated as
	// suspicious), then accepted as a sender restart once it repeats.
	_, ok = s.Update(5)
	assert.False(t, ok)

	extSeq, ok := s.Update(6)
	assert.True(t, ok)
	assert.EqualValues(t, 6, extSeq)
}

func TestSourceStateReorderedPacketAccepted(t *testing.T) {
	var s SourceState
	_, ok := s.Update(100)
	assert.True(t, ok)
	_, ok = s.Update(102)
	assert.True(t, ok)

	// 101 arrives late; within the misorder window, accepted without
	// disturbing maxSeq/cycles.
	extSeq, ok := s.Update(101)
	assert.True(t, ok)
	assert.EqualValues(t, 101, extSeq)
}

func TestSourceStateTimestampWrap(t *testing.T) {
	s := SourceState{FPS: 30, ClockRate: 90000}
	// A packet's sequence number is applied before its timestamp, as in
	// internal/ingest's playout worker; the timestamp tracker seeds itself
	// on its own first call regardless.
	_, ok := s.Update(1)
	assert.True(t, ok)

	extTS := s.UpdateTimestamp(0xFFFFFFF0)
	assert.EqualValues(t, 0xFFFFFFF0, extTS)

	// Small forward step past the wrap boundary counts a new 32-bit cycle.
	extTS = s.UpdateTimestamp(100)
	assert.EqualValues(t, timestampMod+100, extTS)
}
