// Package retry provides the bounded retry combinator used by every
// polling loop in berth. Each call site configures max attempts and a
// delay function; a loop always terminates within attempts × max delay,
// whether it succeeds or fails.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

// ErrAttemptsExhausted is returned when every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// =============================================================================
// Delay Functions
// =============================================================================

// DelayFunc returns the delay to wait after the given 1-based attempt.
type DelayFunc func(attempt int) time.Duration

// Fixed returns the same delay after every attempt.
func Fixed(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// CappedLinear grows the delay linearly per attempt up to a cap.
//
// Example:
//
//	f := CappedLinear(time.Second, 3*time.Second)
//	f(1) // 1s
//	f(2) // 2s
//	f(5) // 3s (capped)
func CappedLinear(step, cap time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		d := time.Duration(attempt) * step
		if d > cap {
			return cap
		}
		return d
	}
}

// =============================================================================
// Combinator
// =============================================================================

// Config bounds one retry loop.
type Config struct {
	// MaxAttempts is the hard attempt ceiling. Must be >= 1.
	MaxAttempts int

	// Delay computes the wait between attempts.
	Delay DelayFunc
}

// Do runs op up to cfg.MaxAttempts times, waiting cfg.Delay between
// attempts. It stops early when op succeeds or ctx is done. On exhaustion
// it returns the last error wrapped with ErrAttemptsExhausted.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Delay == nil {
		cfg.Delay = Fixed(0)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, cfg.MaxAttempts, lastErr)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
