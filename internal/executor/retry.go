// internal/executor/retry.go
package executor

import "time"

// BackoffFunc maps a failed attempt number (1-based) to the delay before the
// next attempt.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns the subsystem's standard backoff: 2^attempt
// times base, so attempt 1 waits 2*base, attempt 2 waits 4*base, and so on.
func ExponentialBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(1<<uint(attempt)) * base
	}
}

// Policy decouples the retry shape from the I/O it wraps, so tests can swap
// in a fake clock and observe delays instead of waiting them out.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// DefaultPolicy is one attempt (no retry) with the standard exponential
// backoff; callers raise MaxAttempts through Options.Retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 1,
		Backoff:     ExponentialBackoff(time.Second),
	}
}
