package resilience

import (
	"context"
	"fmt"
	"time"

	"binsync/internal/apperr"
)

// Policy defines a fixed attempt budget with linear backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait after a failed attempt (1-based): BaseDelay * attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Retry calls op up to maxAttempts times, waiting baseDelay*attempt between
// failures. Only transient errors (network, timeout, unclassified) are
// retried; any other error is returned as is on the first occurrence. When the budget is spent the last error is wrapped into a
// SYSTEM_ERROR carrying originalError and attempts.
func Retry[T any](ctx context.Context, op func(context.Context) (T, error), maxAttempts int, baseDelay time.Duration) (T, error) {
	return Do(ctx, Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}, op)
}

// Do runs op under the policy. See Retry.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !apperr.IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, apperr.System(fmt.Sprintf("operation failed after %d attempts", p.MaxAttempts), lastErr).
		WithDetail("originalError", lastErr).
		WithDetail("attempts", p.MaxAttempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
