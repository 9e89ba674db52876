// Package backoff provides capped exponential backoff for storage retries.
package backoff

import "time"

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the computed delay.
	Max time.Duration
}

// DefaultPolicy returns the retry policy used for repository operations.
// Base: 100ms, Max: 5s.
func DefaultPolicy() Policy {
	return Policy{
		Base: 100 * time.Millisecond,
		Max:  5 * time.Second,
	}
}

// Delay computes the backoff for a given attempt: min(Base * 2^attempt, Max).
// Attempt numbers start at 0. The sequence is monotonically non-decreasing
// and capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Guard the shift: past 62 bits the doubling has long since saturated Max.
	if attempt > 62 {
		return p.Max
	}
	d := p.Base << uint(attempt)
	if d > p.Max || d < p.Base {
		return p.Max
	}
	return d
}
