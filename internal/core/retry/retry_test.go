package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, Delay: Fixed(0)}, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5, Delay: Fixed(time.Millisecond)}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cause := errors.New("always fails")
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 4, Delay: Fixed(0)}, func(context.Context) error {
		calls++
		return cause
	})
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, cause)
}

// The bound: a loop with N attempts and fixed delay d terminates within
// roughly N*d, success or failure.
func TestDo_TerminatesWithinBound(t *testing.T) {
	start := time.Now()
	err := Do(context.Background(), Config{MaxAttempts: 5, Delay: Fixed(10 * time.Millisecond)}, func(context.Context) error {
		return errors.New("never")
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	// 4 waits of 10ms plus execution overhead; generous upper bound.
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Config{MaxAttempts: 3, Delay: Fixed(time.Second)}, func(context.Context) error {
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Do(ctx, Config{MaxAttempts: 10, Delay: Fixed(time.Second)}, func(context.Context) error {
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), Config{MaxAttempts: 3, Delay: Fixed(0)}, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("not yet")
		}
		return "10.0.0.5", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", v)
}

func TestCappedLinear(t *testing.T) {
	f := CappedLinear(time.Second, 3*time.Second)
	assert.Equal(t, time.Second, f(1))
	assert.Equal(t, 2*time.Second, f(2))
	assert.Equal(t, 3*time.Second, f(3))
	assert.Equal(t, 3*time.Second, f(7))
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Config{}, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	assert.Equal(t, 1, calls)
}
