package resilience

import (
	"context"
	"time"

	"binsync/internal/apperr"
)

type outcome[T any] struct {
	val T
	err error
}

// WithTimeout returns op's result if it settles within timeout, otherwise a
// TIMEOUT_ERROR carrying the timeout. op gets a context cancelled at the
// deadline; an op that ignores it keeps running and its result is dropped.
func WithTimeout[T any](ctx context.Context, op func(context.Context) (T, error), timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(opCtx)
		done <- outcome[T]{val: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case res := <-done:
		cancel()
		return res.val, res.err
	case <-timer.C:
		cancel()
		return zero, apperr.Timeout(timeout)
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}

// Guard composes Retry around WithTimeout: each attempt gets its own deadline.
func Guard[T any](ctx context.Context, p Policy, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	return Do(ctx, p, func(c context.Context) (T, error) {
		return WithTimeout(c, op, timeout)
	})
}
