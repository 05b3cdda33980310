package replay

import "time"

// Policy bounds retries.
type Policy struct {
	// MaxAttempts is the number of attempts since the last re-queue after
	// which a failing action becomes failed.
	MaxAttempts int
	// BackoffUnit is the delay after the first failure; it doubles per
	// failure.
	BackoffUnit time.Duration
	// BackoffCap bounds the delay.
	BackoffCap time.Duration
}

// DefaultPolicy: five attempts, 2^n minutes capped at one hour.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	BackoffUnit: time.Minute,
	BackoffCap:  60 * time.Minute,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BackoffUnit <= 0 {
		p.BackoffUnit = DefaultPolicy.BackoffUnit
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = DefaultPolicy.BackoffCap
	}
	return p
}

// Backoff returns the delay after the nth failed attempt.
func (p Policy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	if n < 0 {
		n = 0
	}
	if n >= 62 {
		return p.BackoffCap
	}
	d := p.BackoffUnit * time.Duration(int64(1)<<n)
	if d <= 0 || d > p.BackoffCap || d/time.Duration(int64(1)<<n) != p.BackoffUnit {
		return p.BackoffCap
	}
	return d
}
