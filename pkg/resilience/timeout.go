// Package resilience provides the execution guards used around job attempts
// and broker reads: per-attempt timeouts and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an operation exceeds its timeout budget.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn under a deadline. The wrapped function receives a
// context it must honor; WithTimeout returns as soon as the deadline passes
// even if fn is still draining.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return timeoutCtx.Err()
	}
}
