// Package ratelimit enforces per-user action quotas over a sliding window.
// The default limiter is process-local; RedisLimiter backs multi-instance
// deployments with the same contract.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

// Config configures a limiter.
type Config struct {
	// MaxActions is the quota within one window.
	MaxActions int `json:"max_actions" yaml:"max_actions"`
	// Window is the sliding window length.
	Window time.Duration `json:"window" yaml:"window"`
}

// DefaultConfig returns the default quota: 60 actions per 60 seconds.
func DefaultConfig() Config {
	return Config{
		MaxActions: 60,
		Window:     60 * time.Second,
	}
}

// userWindow holds one user's recent action timestamps behind its own lock,
// so one hot user never serializes checks for everyone else.
type userWindow struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Limiter is the in-memory sliding-window limiter.
type Limiter struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex // guards the user map only
	users map[string]*userWindow
}

// New creates a limiter.
func New(config Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxActions <= 0 {
		config.MaxActions = DefaultConfig().MaxActions
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &Limiter{
		config: config,
		logger: logger.With(zap.String("component", "rate_limiter")),
		now:    time.Now,
		users:  make(map[string]*userWindow),
	}
}

// WithNow swaps the clock, for tests.
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) window(userID string) *userWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.users[userID]
	if !ok {
		w = &userWindow{}
		l.users[userID] = w
	}
	return w
}

// Check records one action for the user, or returns a RATE_LIMITED error
// carrying the seconds until the oldest recorded action leaves the window.
func (l *Limiter) Check(userID string) error {
	w := l.window(userID)
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.stamps[:0]
	for _, t := range w.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= l.config.MaxActions {
		retryAfter := w.stamps[0].Add(l.config.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.logger.Warn("rate limit exceeded",
			zap.String("user_id", userID),
			zap.Duration("retry_after", retryAfter))
		return types.NewError(types.ErrRateLimited,
			fmt.Sprintf("rate limit exceeded, retry in %.0f seconds", retryAfter.Seconds())).
			WithRetryAfter(retryAfter).
			WithRetryable(true)
	}

	w.stamps = append(w.stamps, now)
	return nil
}

// Remaining reports quota headroom without recording an action.
func (l *Limiter) Remaining(userID string) int {
	w := l.window(userID)
	cutoff := l.now().Add(-l.config.Window)

	w.mu.Lock()
	defer w.mu.Unlock()

	count := 0
	for _, t := range w.stamps {
		if t.After(cutoff) {
			count++
		}
	}
	remaining := l.config.MaxActions - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset clears a user's recorded actions.
func (l *Limiter) Reset(userID string) {
	w := l.window(userID)
	w.mu.Lock()
	w.stamps = nil
	w.mu.Unlock()
}
