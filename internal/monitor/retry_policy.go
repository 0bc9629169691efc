package monitor

import (
	"context"
	"errors"
	"time"
)

// FixedRetryPolicy retries transient fetch errors a bounded number of times
// with a fixed delay between attempts. It is the single retry policy applied
// by the fetch strategy layer; call sites never roll their own loops.
type FixedRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// NewFixedRetryPolicy builds a policy. Non-positive arguments fall back to
// three attempts and a three second delay.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) *FixedRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &FixedRetryPolicy{maxAttempts: maxAttempts, delay: delay}
}

// MaxAttempts returns the attempt budget including the first try.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns the fixed inter-attempt delay.
func (p *FixedRetryPolicy) Delay() time.Duration {
	return p.delay
}

// ShouldRetry decides whether the error class is retryable. Cancellation,
// 404s and session-backoff conditions are terminal. Deadline errors stay
// retryable: an HTTP client timeout matches context.DeadlineExceeded, and a
// timed-out request is exactly what the retry budget is for. The caller's own
// deadline is enforced by the retry loop, not here.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionBackoff) {
		return false
	}
	return true
}
