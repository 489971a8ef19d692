package ingest

import "testing"

func TestPoolAcquireRelease(t *testing.T) {
	counters := &Counters{}
	p := NewPool(2, counters)

	a, ok := p.acquire()
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	b, ok := p.acquire()
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	if _, ok := p.acquire(); ok {
		t.Fatal("expected pool exhaustion")
	}

	p.release(a)
	if _, ok := p.acquire(); !ok {
		t.Fatal("expected acquire to succeed after release")
	}

	p.release(b)

	snap := counters.Snapshot()
	if snap.PoolMisses != 1 {
		t.Fatalf("expected 1 pool miss, got %d", snap.PoolMisses)
	}
	if snap.PoolHits != 3 {
		t.Fatalf("expected 3 pool hits, got %d", snap.PoolHits)
	}
}

func TestPoolReleaseWrongOwnerPanics(t *testing.T) {
	counters := &Counters{}
	p1 := NewPool(1, counters)
	p2 := NewPool(1, counters)

	buf, _ := p1.acquire()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing to the wrong pool")
		}
	}()
	p2.release(buf)
}
