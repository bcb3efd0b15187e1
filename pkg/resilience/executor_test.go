package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTemp = errors.New("temporary")

func retryTemp(err error) ErrorClassification {
	return ErrorClassification{Retryable: errors.Is(err, errTemp) || IsCircuitOpen(err), RecordFailure: true}
}

func newTestExecutor(cfg Config) (*Executor, *[]time.Duration) {
	waits := make([]time.Duration, 0)
	exec := NewExecutor(cfg)
	exec.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	exec.jitter = func() float64 { return 0.5 }
	return exec, &waits
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec, waits := newTestExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 10 * time.Millisecond,
		RetryMaxBackoff:     15 * time.Millisecond,
		RetryMultiplier:     2,
	})

	attempts := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, retryTemp)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, *waits)
}

func TestExecuteStopsAtMaxAttempts(t *testing.T) {
	exec, waits := newTestExecutor(Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})

	attempts := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errTemp
	}, retryTemp)
	require.ErrorIs(t, err, errTemp)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *waits, 2)
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec, waits := newTestExecutor(Config{RetryMaxAttempts: 3})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, retryTemp)
	require.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *waits)
}

func TestExecuteAppliesJitterWithinSpread(t *testing.T) {
	exec, waits := newTestExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryJitter:         0.2,
	})
	exec.jitter = func() float64 { return 1 }

	_ = exec.Execute(context.Background(), "op", func(context.Context) error { return errTemp }, retryTemp)
	require.Len(t, *waits, 1)
	assert.Equal(t, 120*time.Millisecond, (*waits)[0])
}

func TestExecuteOpenCircuitCountsAsAttempt(t *testing.T) {
	exec, _ := newTestExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	})

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "llm.complete", func(context.Context) error { return errTemp }, retryTemp)
		require.ErrorIs(t, err, errTemp)
	}

	calls := 0
	err := exec.Execute(context.Background(), "llm.complete", func(context.Context) error {
		calls++
		return nil
	}, retryTemp)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, IsCircuitOpen(err))
	assert.Zero(t, calls)

	// breakers are per operation
	require.NoError(t, exec.Execute(context.Background(), "nats.publish", func(context.Context) error { return nil }, retryTemp))
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Execute(ctx, "op", func(context.Context) error {
		t.Fatal("operation must not run on cancelled context")
		return nil
	}, retryTemp)
	require.ErrorIs(t, err, context.Canceled)
}
