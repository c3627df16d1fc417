package cache

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window request counter keyed by caller
type RateLimiter struct {
	mu       sync.Mutex
	counters map[string]*rateLimitCounter
	limit    int
	window   time.Duration
	now      func() time.Time
}

type rateLimitCounter struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit calls per key per window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counters: make(map[string]*rateLimitCounter),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a call for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	counter, exists := rl.counters[key]
	if !exists || now.Sub(counter.windowStart) >= rl.window {
		rl.counters[key] = &rateLimitCounter{count: 1, windowStart: now}
		rl.prune(now)
		return true
	}

	if counter.count < rl.limit {
		counter.count++
		return true
	}
	return false
}

// RetryAfter is how long key must wait before its window reopens. Zero
// when key is not limited.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	counter, exists := rl.counters[key]
	if !exists || counter.count < rl.limit {
		return 0
	}
	wait := rl.window - rl.now().Sub(counter.windowStart)
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset forgets key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.counters, key)
}

// prune drops idle keys; must be called with mu held
func (rl *RateLimiter) prune(now time.Time) {
	for key, counter := range rl.counters {
		if now.Sub(counter.windowStart) > rl.window*2 {
			delete(rl.counters, key)
		}
	}
}
