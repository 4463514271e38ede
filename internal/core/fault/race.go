package fault

import (
	"context"
	"errors"
	"time"
)

// Race runs fn with a context bounded by d and returns a Timeout error as soon
// as the deadline passes, even if fn ignores its context and keeps running.
// A late result from fn is discarded.
func Race[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}

	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, Timeout(op, d)
		}
		return zero, ctx.Err()
	}
}
