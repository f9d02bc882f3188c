package ingest

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// withRetry runs fn up to maxRetries+1 times with doubling delays. Each
// attempt gets its own timeout when attemptTimeout is positive.
func withRetry(ctx context.Context, clock clockwork.Clock, maxRetries int, baseDelay, attemptTimeout time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := runAttempt(ctx, attemptTimeout, fn)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(delay):
		}

		delay *= 2
	}
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// reconnectBackoff returns the wait before reconnect attempt n (starting at 0):
// base doubled per attempt, capped at ceiling.
func reconnectBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if ceiling < base {
		ceiling = base
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	return delay
}
