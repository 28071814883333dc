package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiter_AllowWithDetails(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		limit := 5
		for i := 0; i < limit; i++ {
			allowed, remaining, resetAt, err := limiter.AllowWithDetails(ctx, "user-1", limit)
			require.NoError(t, err)
			assert.True(t, allowed)
			assert.Equal(t, limit-i-1, remaining)
			assert.False(t, resetAt.IsZero())
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		limit := 3
		for i := 0; i < limit; i++ {
			allowed, _, _, err := limiter.AllowWithDetails(ctx, "user-2", limit)
			require.NoError(t, err)
			assert.True(t, allowed)
		}

		allowed, remaining, resetAt, err := limiter.AllowWithDetails(ctx, "user-2", limit)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
		assert.False(t, resetAt.IsZero())

		// rejected requests are not recorded
		usage, err := limiter.GetCurrentUsage(ctx, "user-2")
		require.NoError(t, err)
		assert.Equal(t, int64(limit), usage)
	})

	t.Run("unlimited when limit is 0", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		for i := 0; i < 100; i++ {
			allowed, remaining, resetAt, err := limiter.AllowWithDetails(ctx, "user-unlimited", 0)
			require.NoError(t, err)
			assert.True(t, allowed)
			assert.Equal(t, -1, remaining)
			assert.True(t, resetAt.IsZero())
		}
	})

	t.Run("window slides", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		clock := newFakeClock()
		limiter := NewRateLimiter(client)
		limiter.now = clock.Now
		ctx := context.Background()

		allowed, _, firstReset, err := limiter.AllowWithDetails(ctx, "user-window", 2)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.WithinDuration(t, clock.Now().Add(DefaultWindow), firstReset, 0)

		clock.Advance(30 * time.Second)
		allowed, _, _, err = limiter.AllowWithDetails(ctx, "user-window", 2)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, _, resetAt, err := limiter.AllowWithDetails(ctx, "user-window", 2)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.WithinDuration(t, firstReset, resetAt, 0)

		// the first request leaves the window
		clock.Advance(31 * time.Second)
		allowed, remaining, _, err := limiter.AllowWithDetails(ctx, "user-window", 2)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("keys are independent", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		allowed, _, _, err := limiter.AllowWithDetails(ctx, "a", 1)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, _, _, err = limiter.AllowWithDetails(ctx, "b", 1)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = limiter.Allow(ctx, "a", 1)
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestRateLimiter_KeyLayout(t *testing.T) {
	client, mr := setupTestRedis(t)
	limiter := NewRateLimiter(client, WithKeyPrefix("chat"), WithWindow(10*time.Second))
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "user-9", 5)
	require.NoError(t, err)

	assert.True(t, mr.Exists("chat:user-9"))
	assert.Equal(t, 20*time.Second, mr.TTL("chat:user-9"))
}

func TestRateLimiter_GetCurrentUsage(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	usage, err := limiter.GetCurrentUsage(ctx, "usage")
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage)

	for i := 0; i < 3; i++ {
		_, _, _, err := limiter.AllowWithDetails(ctx, "usage", 10)
		require.NoError(t, err)
	}

	usage, err = limiter.GetCurrentUsage(ctx, "usage")
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage)
}

func TestRateLimiter_Reset(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, _, err := limiter.AllowWithDetails(ctx, "reset", 2)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _, _, err := limiter.AllowWithDetails(ctx, "reset", 2)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "reset"))

	allowed, remaining, _, err := limiter.AllowWithDetails(ctx, "reset", 2)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestRateLimiter_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	limiter := NewRateLimiter(client)
	mr.Close()

	_, _, _, err := limiter.AllowWithDetails(context.Background(), "down", 1)
	assert.Error(t, err)
}

func TestRedisLimiter(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewRedisLimiter(NewRateLimiter(client), 2)
	ctx := context.Background()

	d, err := l.Allow(ctx, "u")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
	assert.Equal(t, 1, d.Remaining)

	_, err = l.Allow(ctx, "u")
	require.NoError(t, err)
	d, err = l.Allow(ctx, "u")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	off := NewRedisLimiter(NewRateLimiter(client), 0)
	d, err = off.Allow(ctx, "u")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, -1, d.Remaining)
}

func TestNoopLimiter(t *testing.T) {
	limiter := NewNoopLimiter()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		d, err := limiter.Allow(ctx, "any-key")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}
