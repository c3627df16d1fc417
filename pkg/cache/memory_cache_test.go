package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(maxEntries int) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)}
	c := NewMemoryCache(maxEntries, 0)
	c.now = clock.now
	return c, clock
}

func TestMemoryCache_SetGetExpire(t *testing.T) {
	c, clock := newTestCache(0)

	c.Set("d1", "decision-1", time.Hour)
	c.Set("d2", "decision-2", time.Minute)
	c.Set("d3", "decision-3", 0)

	v, ok := c.Get("d1")
	assert.True(t, ok)
	assert.Equal(t, "decision-1", v)

	clock.advance(2 * time.Minute)
	_, ok = c.Get("d2")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	clock.advance(24 * time.Hour)
	all := c.GetAll()
	assert.Equal(t, map[string]interface{}{"d3": "decision-3"}, all)

	c.sweep()
	assert.Equal(t, 1, c.Len())

	c.Delete("d3")
	_, ok = c.Get("d3")
	assert.False(t, ok)
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	c, clock := newTestCache(2)

	c.Set("a", 1, 0)
	clock.advance(time.Second)
	c.Set("b", 2, 0)
	clock.advance(time.Second)
	c.Set("a", 10, 0) // overwrite does not evict
	assert.Equal(t, 2, c.Len())

	clock.advance(time.Second)
	c.Set("c", 3, 0)

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, _ := c.Get("a")
	assert.Equal(t, 10, v)

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestMemoryCache_CloseStopsSweeper(t *testing.T) {
	c := NewMemoryCache(0, time.Millisecond)
	c.Close()
	c.Close()
}

func TestRateLimiter(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)}
	limiter := NewRateLimiter(3, time.Second)
	limiter.now = clock.now

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d", i+1)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))

	limiter.Reset("10.0.0.1")
	assert.True(t, limiter.Allow("10.0.0.1"))

	clock.advance(time.Second)
	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.2"))
	}
	assert.False(t, limiter.Allow("10.0.0.2"))
}
