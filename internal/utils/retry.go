package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds a network operation: at most Attempts tries, each with
// its own Timeout, separated by exponentially growing delays.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Timeout   time.Duration
	// OnRetry is called before sleeping after a failed attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Timeout:   30 * time.Second,
	}
}

// Backoff returns the delay before attempt n+1 (n counted from 1).
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Retry runs op until it succeeds, returns an error retryable rejects, or
// the attempts run out. An attempt exceeding its own timeout counts as a
// retryable failure; cancellation of ctx itself stops immediately.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		lastErr = runAttempt(ctx, policy.Timeout, op)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		timedOut := errors.Is(lastErr, context.DeadlineExceeded)
		if !timedOut && retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if i == attempts {
			break
		}

		wait := policy.Backoff(i)
		if policy.OnRetry != nil {
			policy.OnRetry(i, lastErr, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}
