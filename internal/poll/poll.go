// Package poll runs a bounded polling loop with a fixed pause between attempts.
package poll

import (
	"context"
	"fmt"
	"time"
)

// Config bounds a polling loop: one initial attempt plus Retries more. After
// every unfinished attempt except the last the loop pauses for Interval.
type Config struct {
	Interval time.Duration
	Retries  int
}

// Attempts is the total number of calls Until makes when nothing finishes.
func (c Config) Attempts() int {
	if c.Retries < 0 {
		return 1
	}
	return c.Retries + 1
}

// CheckFunc performs one attempt. attempt starts at 1. Returning done=true
// stops the loop with value; a non-nil error stops it immediately.
type CheckFunc[T any] func(ctx context.Context, attempt int) (value T, done bool, err error)

// Until calls check until it reports done, returns an error, or the attempt
// budget is spent. Exhausting the budget is not an error: it returns the zero
// value with ok=false. Only context cancellation interrupts the pause.
func Until[T any](ctx context.Context, cfg Config, check CheckFunc[T]) (value T, ok bool, err error) {
	var zero T
	attempts := cfg.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		v, done, err := check(ctx, attempt)
		if err != nil {
			return zero, false, err
		}
		if done {
			return v, true, nil
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, cfg.Interval); err != nil {
			return zero, false, fmt.Errorf("poll wait: %w", err)
		}
	}
	return zero, false, nil
}

// sleep pauses for d, measured from the end of the previous attempt.
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
