// Package workflow runs multi-step plans against a session: precondition
// checks, bounded retry with backoff, post-action waits, and error recovery
// when a target element disappears.
package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

// globalMaxRetries caps per-step retries regardless of what a step asks
// for, so a hostile plan cannot request unbounded retry.
const globalMaxRetries = 3

// backoffSchedule is the wait before each retry. Attempts past the end of
// the schedule reuse its last value.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

// backoffDelay returns the wait before retry number attempt (0-based).
func backoffDelay(attempt int) time.Duration {
	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

// boundedRetries clamps a step's requested retries to the global cap.
func boundedRetries(requested int) int {
	if requested > globalMaxRetries {
		return globalMaxRetries
	}
	if requested < 0 {
		return 0
	}
	return requested
}

// sleepFunc suspends only the calling workflow. Injectable so tests never
// block on real time.
type sleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteWithRetry runs fn with the engine's bounded-retry and backoff
// contract, for ad-hoc operations outside a step list. Non-retryable typed
// errors stop immediately.
func (e *Engine) ExecuteWithRetry(ctx context.Context, name string, maxRetries int, fn func(ctx context.Context) error) error {
	retries := boundedRetries(maxRetries)
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, backoffDelay(attempt-1)); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if types.GetErrorCode(lastErr) != "" && !types.IsRetryable(lastErr) {
			return lastErr
		}
		e.logger.Debug("operation attempt failed",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}
