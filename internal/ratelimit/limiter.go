// Package ratelimit throttles repeated actions per key with fixed-window
// token buckets.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/isolator/internal/clock"
)

// Limiter manages rate limiting for multiple keys.
type Limiter struct {
	clock    clock.Clock
	limiters map[string]*bucket
	mu       sync.Mutex
}

// bucket holds the tokens left in the current window.
type bucket struct {
	tokens   int
	limit    int
	interval time.Duration
	lastFill time.Time
	lastUsed time.Time
	mu       sync.Mutex
}

// NewLimiter creates a limiter on c (clock.Real when nil).
func NewLimiter(c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real
	}
	return &Limiter{
		clock:    c,
		limiters: make(map[string]*bucket),
	}
}

// Allow reports whether another action for key fits in the current window of
// length interval, and consumes a token if so. limit and interval are fixed
// by the first call for a key.
func (l *Limiter) Allow(key string, limit int, interval time.Duration) bool {
	now := l.clock.Now()

	l.mu.Lock()
	b, exists := l.limiters[key]
	if !exists {
		b = &bucket{
			tokens:   limit,
			limit:    limit,
			interval: interval,
			lastFill: now,
		}
		l.limiters[key] = b
	}
	l.mu.Unlock()

	return b.take(now)
}

func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUsed = now
	if now.Sub(b.lastFill) >= b.interval {
		b.tokens = b.limit
		b.lastFill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Reset clears the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// CleanupExpired drops buckets unused for longer than maxAge and returns how
// many were removed.
func (l *Limiter) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, b := range l.limiters {
		b.mu.Lock()
		idle := now.Sub(b.lastUsed)
		b.mu.Unlock()
		if idle > maxAge {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
