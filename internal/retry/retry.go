// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// DefaultInitialDelay is the wait before the second attempt.
const DefaultInitialDelay = time.Second

// Policy configures Do.
type Policy struct {
	// MaxAttempts caps the number of calls; values below 1 mean 1.
	MaxAttempts int
	// InitialDelay doubles after every failed attempt.
	InitialDelay time.Duration
	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
	// Sleep waits between attempts. Nil means time.Sleep.
	Sleep func(time.Duration)
	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt ceiling is reached. The last error is returned unchanged apart
// from an attempt count prefix, so errors.Is and errors.As still see it.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = DefaultInitialDelay
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt >= maxAttempts {
			return zero, fmt.Errorf("all %d attempts failed: %w", attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		sleep(delay)
		delay *= 2
	}
}
