package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket refilled continuously at rate tokens/second.
type bucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	rate     float64
	last     time.Time
}

func newBucket(capacity, rate int) *bucket {
	return &bucket{
		capacity: float64(capacity),
		tokens:   float64(capacity), // start full
		rate:     float64(rate),
		last:     time.Now(),
	}
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RateLimiter keeps one token bucket per route.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	defaultRPS   int
	defaultBurst int
}

// NewRateLimiter creates a limiter that hands out defaultBurst tokens per
// route, refilled at defaultRPS tokens per second.
func NewRateLimiter(defaultRPS, defaultBurst int) *RateLimiter {
	if defaultBurst <= 0 {
		defaultBurst = defaultRPS
	}
	return &RateLimiter{
		buckets:      make(map[string]*bucket),
		defaultRPS:   defaultRPS,
		defaultBurst: defaultBurst,
	}
}

// Allow reports whether a request for the given route may proceed,
// consuming one token if so.
func (rl *RateLimiter) Allow(route string) bool {
	rl.mu.RLock()
	b, ok := rl.buckets[route]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		if b, ok = rl.buckets[route]; !ok {
			b = newBucket(rl.defaultBurst, rl.defaultRPS)
			rl.buckets[route] = b
		}
		rl.mu.Unlock()
	}

	return b.allow()
}
