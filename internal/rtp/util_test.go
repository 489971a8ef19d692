package rtp

import "testing"

func TestSplit2114(t *testing.T) {
	a, b, c, d := splitByte2114(0x80 | 0x20 | 0x10 | 0x03)
	if a != 2 {
		t.Fail()
	}
	if !b {
		t.Fail()
	}
	if !c {
		t.Fail()
	}
	if d != 3 {
		t.Fail()
	}
}

func TestJoin2114(t *testing.T) {
	if joinByte2114(2, true, true, 3) != (0x80 | 0x20 | 0x10 | 0x03) {
		t.Fail()
	}
}

func TestSplit17(t *testing.T) {
	b1, b7 := splitByte17(0x80 | 0x35)
	if !b1 {
		t.Fail()
	}
	if b7 != 0x35 {
		t.Fail()
	}
}

func TestTrunc(t *testing.T) {
	a := uint64(0x1ff)
	if trunc(a, 8) != 0xff {
		t.Fail()
	}
	if trunc(a, 7) != 0x7f {
		t.Fail()
	}
}
