package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

// recordingSleep captures requested delays without blocking.
func recordingSleep(delays *[]time.Duration) sleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(0))
	assert.Equal(t, 2*time.Second, backoffDelay(1))
	assert.Equal(t, 5*time.Second, backoffDelay(2))
	assert.Equal(t, 5*time.Second, backoffDelay(3), "past the schedule the last value repeats")
	assert.Equal(t, 5*time.Second, backoffDelay(10))
}

func TestBoundedRetriesClampsToGlobalCap(t *testing.T) {
	assert.Equal(t, 0, boundedRetries(0))
	assert.Equal(t, 2, boundedRetries(2))
	assert.Equal(t, 3, boundedRetries(3))
	assert.Equal(t, 3, boundedRetries(50), "a step can never buy more than the global cap")
	assert.Equal(t, 0, boundedRetries(-5))
}

func newBareEngine(t *testing.T) (*Engine, *[]time.Duration) {
	t.Helper()
	var delays []time.Duration
	e := &Engine{
		logger: zap.NewNop(),
		sleep:  recordingSleep(&delays),
		now:    time.Now,
	}
	return e, &delays
}

func TestExecuteWithRetryBoundedAttempts(t *testing.T) {
	e, delays := newBareEngine(t)

	calls := 0
	err := e.ExecuteWithRetry(context.Background(), "flaky", 10, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "1 initial + 3 capped retries")
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}, *delays)
}

func TestExecuteWithRetryStopsOnSuccess(t *testing.T) {
	e, delays := newBareEngine(t)

	calls := 0
	err := e.ExecuteWithRetry(context.Background(), "eventually", 3, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *delays)
}

func TestExecuteWithRetryRespectsNonRetryableErrors(t *testing.T) {
	e, _ := newBareEngine(t)

	calls := 0
	err := e.ExecuteWithRetry(context.Background(), "fatal", 3, func(ctx context.Context) error {
		calls++
		return types.NewError(types.ErrSecurityViolation, "blocked")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable typed errors stop immediately")
	assert.True(t, types.IsCode(err, types.ErrSecurityViolation))
}

func TestExecuteWithRetryHonorsCancellation(t *testing.T) {
	e, _ := newBareEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := e.ExecuteWithRetry(ctx, "cancelled", 3, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation during backoff aborts the retry loop")
}
