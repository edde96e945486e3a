// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxAttempts = 2
	DefaultBackoff     = 5 * time.Second
)

// Policy is a fixed-backoff retry policy.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy waits five seconds and tries exactly once more.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

// Do calls fn until it succeeds or the attempts run out. fn receives the
// 1-based attempt number. The returned attempt count is how many calls were
// made.
func (p Policy) Do(ctx context.Context, log *slog.Logger, fn func(attempt int) error) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}

		lastErr = err
		log.Warn("Attempt failed", "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		if attempt == maxAttempts {
			break
		}

		if err := sleep(ctx, p.Backoff); err != nil {
			return attempt, fmt.Errorf("retry interrupted after %d attempts: %w", attempt, lastErr)
		}
	}

	return maxAttempts, fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
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
