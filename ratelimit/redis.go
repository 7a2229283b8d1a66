package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

const redisKeyPrefix = "siteflow:ratelimit:"

// RedisLimiter is the sliding-window limiter over a redis sorted set,
// for deployments where several engine instances share one quota.
// Timestamps are ZSET scores in nanoseconds; pruning is a range delete.
type RedisLimiter struct {
	client *redis.Client
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisLimiter creates a redis-backed limiter.
func NewRedisLimiter(client *redis.Client, config Config, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxActions <= 0 {
		config.MaxActions = DefaultConfig().MaxActions
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &RedisLimiter{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "redis_rate_limiter")),
		now:    time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (l *RedisLimiter) WithNow(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

func (l *RedisLimiter) key(userID string) string {
	return redisKeyPrefix + userID
}

// Check records one action, or returns a RATE_LIMITED error with the time
// until the oldest entry leaves the window.
func (l *RedisLimiter) Check(ctx context.Context, userID string) error {
	key := l.key(userID)
	now := l.now()
	cutoff := now.Add(-l.config.Window).UnixNano()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrInternal, "rate limit check failed").WithCause(err)
	}

	if int(countCmd.Val()) >= l.config.MaxActions {
		retryAfter := l.config.Window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(l.config.Window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		l.logger.Warn("rate limit exceeded",
			zap.String("user_id", userID),
			zap.Duration("retry_after", retryAfter))
		return types.NewError(types.ErrRateLimited,
			fmt.Sprintf("rate limit exceeded, retry in %.0f seconds", retryAfter.Seconds())).
			WithRetryAfter(retryAfter).
			WithRetryable(true)
	}

	record := l.client.TxPipeline()
	record.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	record.Expire(ctx, key, l.config.Window)
	if _, err := record.Exec(ctx); err != nil {
		return types.NewError(types.ErrInternal, "rate limit record failed").WithCause(err)
	}
	return nil
}

// Remaining reports quota headroom without recording an action.
func (l *RedisLimiter) Remaining(ctx context.Context, userID string) (int, error) {
	key := l.key(userID)
	cutoff := l.now().Add(-l.config.Window).UnixNano()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, types.NewError(types.ErrInternal, "rate limit query failed").WithCause(err)
	}

	remaining := l.config.MaxActions - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears a user's recorded actions.
func (l *RedisLimiter) Reset(ctx context.Context, userID string) error {
	if err := l.client.Del(ctx, l.key(userID)).Err(); err != nil {
		return types.NewError(types.ErrInternal, "rate limit reset failed").WithCause(err)
	}
	return nil
}
