// Package retry provides a reusable retry policy for network-calling components.
package retry

import (
	"context"
	"time"
)

// Policy describes how an operation is retried: attempt cap, per-attempt
// delay, and which errors are worth retrying.
type Policy struct {
	// MaxAttempts is the total number of attempts (not additional retries).
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Delay returns the wait applied before the given 1-based attempt.
	// Nil means no waiting.
	Delay func(attempt int) time.Duration

	// Retryable reports whether the error should be retried. Nil retries
	// every error until MaxAttempts is exhausted.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// cap is exhausted. The delay before each attempt honors ctx cancellation.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if p.Delay != nil {
			if d := p.Delay(attempt); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}

// RateLimitedBackoff returns a delay function that always pays base (provider
// pacing) and adds exponential backoff from the second attempt on:
// base + 2^(attempt-1)*step for attempt > 1.
func RateLimitedBackoff(base, step time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		if attempt > 1 {
			d += step << uint(attempt-1)
		}
		return d
	}
}
