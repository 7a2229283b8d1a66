package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/siteflow/types"
)

func newRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	l := NewRedisLimiter(client, cfg, nil).WithNow(func() time.Time { return now })
	return l, &now
}

func TestRedisCheckEnforcesQuota(t *testing.T) {
	l, nowPtr := newRedisLimiter(t, Config{MaxActions: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Check(ctx, "alice"))
		*nowPtr = nowPtr.Add(time.Second)
	}
	err := l.Check(ctx, "alice")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRateLimited))

	// Oldest entry is 3s old in a 60s window.
	assert.InDelta(t, 57*time.Second, types.RetryAfter(err), float64(time.Second))
}

func TestRedisCheckSlidesWindow(t *testing.T) {
	l, nowPtr := newRedisLimiter(t, Config{MaxActions: 2, Window: 10 * time.Second})
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "bob"))
	require.NoError(t, l.Check(ctx, "bob"))
	require.Error(t, l.Check(ctx, "bob"))

	*nowPtr = nowPtr.Add(11 * time.Second)
	require.NoError(t, l.Check(ctx, "bob"))
}

func TestRedisRemainingAndReset(t *testing.T) {
	l, _ := newRedisLimiter(t, Config{MaxActions: 5, Window: time.Minute})
	ctx := context.Background()

	remaining, err := l.Remaining(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	require.NoError(t, l.Check(ctx, "carol"))
	remaining, err = l.Remaining(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	require.NoError(t, l.Reset(ctx, "carol"))
	remaining, err = l.Remaining(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestRedisUsersShareNothing(t *testing.T) {
	l, _ := newRedisLimiter(t, Config{MaxActions: 1, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "dave"))
	require.Error(t, l.Check(ctx, "dave"))
	require.NoError(t, l.Check(ctx, "erin"))
}
