package analyze

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// withDeadline runs fn under a hard timeout, converting expiry into
// ErrTimeout. Timeout ownership lives here so every external call in the
// package shares one implementation and its timer is always released.
func withDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	out, err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	}
	return out, err
}
