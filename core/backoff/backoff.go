package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns the delay before attempt n (0-based).
	Delay(attempt int) time.Duration
}

// Exponential grows the delay geometrically up to a cap, with optional
// proportional jitter.
type Exponential struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	// Jitter is the fraction of random variation applied symmetrically,
	// e.g. 0.1 for ±10%. Zero disables jitter.
	Jitter float64
}

// NewExponential creates the strategy shared by token refresh and channel
// reconnects: base 1s, factor 2, cap 30s, ±10% jitter.
func NewExponential() *Exponential {
	return &Exponential{
		Base:   time.Second,
		Factor: 2,
		Max:    30 * time.Second,
		Jitter: 0.1,
	}
}

// Delay implements Strategy.
// delay = min(base * factor^attempt, max), then ± jitter.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt))
	if delay > float64(e.Max) {
		delay = float64(e.Max)
	}

	if e.Jitter > 0 && delay > 0 {
		delay += delay * e.Jitter * (rand.Float64()*2 - 1)
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Fixed always returns the same delay.
type Fixed struct {
	Interval time.Duration
}

// Delay implements Strategy.
func (f *Fixed) Delay(int) time.Duration {
	return f.Interval
}
