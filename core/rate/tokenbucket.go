package rate

import (
	"sync"
	"time"
)

// TokenBucketLimiter is an in-process token bucket: capacity tokens,
// refilled at rate tokens per second. It self-throttles a client against
// a backend quota without a round trip.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	tokens   float64
	last     time.Time
}

// NewTokenBucketLimiter builds a full bucket.
func NewTokenBucketLimiter(capacity, perSecond int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		capacity: float64(capacity),
		rate:     float64(perSecond),
		tokens:   float64(capacity),
		last:     time.Now(),
	}
}

// Allow reports whether one request may proceed now.
func (lim *TokenBucketLimiter) Allow() bool {
	return lim.AllowN(time.Now(), 1)
}

// AllowN reports whether n requests may proceed at t, consuming the
// tokens when they may.
func (lim *TokenBucketLimiter) AllowN(t time.Time, n int) bool {
	lim.mu.Lock()
	defer lim.mu.Unlock()

	if t.After(lim.last) {
		lim.tokens += t.Sub(lim.last).Seconds() * lim.rate
		if lim.tokens > lim.capacity {
			lim.tokens = lim.capacity
		}
		lim.last = t
	}

	if lim.tokens < float64(n) {
		return false
	}
	lim.tokens -= float64(n)
	return true
}
