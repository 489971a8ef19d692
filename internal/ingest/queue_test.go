package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputQueueFIFO(t *testing.T) {
	counters := &Counters{}
	q := NewInputQueue(4, counters)

	pool := NewPool(4, counters)
	a, _ := pool.acquire()
	b, _ := pool.acquire()

	assert.Nil(t, q.Put(a))
	assert.Nil(t, q.Put(b))
	assert.Equal(t, 2, q.Len())

	first, ok := q.Get()
	assert.True(t, ok)
	assert.True(t, first == a)

	second, ok := q.Get()
	assert.True(t, ok)
	assert.True(t, second == b)

	_, ok = q.Get()
	assert.False(t, ok)
}

func TestInputQueueDropsNewestOnOverflow(t *testing.T) {
	counters := &Counters{}
	q := NewInputQueue(2, counters)
	pool := NewPool(3, counters)

	a, _ := pool.acquire()
	b, _ := pool.acquire()
	c, _ := pool.acquire()

	assert.Nil(t, q.Put(a))
	assert.Nil(t, q.Put(b))

	// Queue is now full; the newest packet (c) is dropped rather than
	// evicting either buffered packet.
	dropped := q.Put(c)
	assert.True(t, dropped == c)

	assert.Equal(t, 2, q.Len())
	snap := counters.Snapshot()
	assert.EqualValues(t, 1, snap.Overflow)

	first, _ := q.Get()
	assert.True(t, first == a)
	second, _ := q.Get()
	assert.True(t, second == b)
}
