package nav

import (
	"context"
	"time"
)

// minWait runs fn and releases a successful result no earlier than d after
// the call. Failures return at once.
func minWait[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(ctx)
	if err != nil || d <= 0 {
		return v, err
	}
	rest := d - time.Since(start)
	if rest <= 0 {
		return v, nil
	}
	t := time.NewTimer(rest)
	defer t.Stop()
	select {
	case <-t.C:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
