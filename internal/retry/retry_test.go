package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("auth")
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_DelayObservesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{
		MaxAttempts: 2,
		Delay:       func(int) time.Duration { return time.Hour },
	}
	err := p.Do(ctx, func(ctx context.Context, attempt int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_AttemptNumbersPassed(t *testing.T) {
	var seen []int
	p := Policy{MaxAttempts: 3}
	_ = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		return errors.New("x")
	})
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRateLimitedBackoff(t *testing.T) {
	delay := RateLimitedBackoff(500*time.Millisecond, time.Second)
	// First attempt pays only the base pacing delay.
	assert.Equal(t, 500*time.Millisecond, delay(1))
	// Subsequent attempts add 2^(attempt-1) * step.
	assert.Equal(t, 500*time.Millisecond+2*time.Second, delay(2))
	assert.Equal(t, 500*time.Millisecond+4*time.Second, delay(3))
}
