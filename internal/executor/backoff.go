package executor

import (
	"context"
	"time"
)

// Backoff returns the wait before confirmation poll attempt+1:
// min(base * 2^attempt, ceiling).
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	if attempt >= 62 {
		return ceiling
	}
	d := base << uint(attempt)
	if d>>uint(attempt) != base || d > ceiling {
		return ceiling
	}
	return d
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
