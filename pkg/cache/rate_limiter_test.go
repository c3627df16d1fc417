package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)}
	rl := NewRateLimiter(2, time.Second)
	rl.now = clock.now

	assert.True(t, rl.Allow("desk-a"))
	assert.True(t, rl.Allow("desk-a"))
	assert.False(t, rl.Allow("desk-a"))
	assert.True(t, rl.Allow("desk-b"))

	clock.advance(400 * time.Millisecond)
	assert.Equal(t, 600*time.Millisecond, rl.RetryAfter("desk-a"))
	assert.Zero(t, rl.RetryAfter("desk-b"))
	assert.Zero(t, rl.RetryAfter("unknown"))

	clock.advance(600 * time.Millisecond)
	assert.True(t, rl.Allow("desk-a"))
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("desk-a"))
	assert.False(t, rl.Allow("desk-a"))

	rl.Reset("desk-a")
	assert.True(t, rl.Allow("desk-a"))
}
