package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter(t *testing.T) {
	clock := newFakeClock()
	l := NewLocalLimiter(3, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "user")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i-1, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	d, err := l.Allow(ctx, "user")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.WithinDuration(t, clock.Now().Add(20*time.Second), d.ResetAt, 0)

	// other keys have their own bucket
	d, err = l.Allow(ctx, "someone-else")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// one token refills every 20s
	clock.Advance(20 * time.Second)
	d, err = l.Allow(ctx, "user")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "user")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestLocalLimiter_Disabled(t *testing.T) {
	l := NewLocalLimiter(0, 0)
	for i := 0; i < 50; i++ {
		d, err := l.Allow(context.Background(), "user")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, -1, d.Remaining)
	}
	assert.Zero(t, l.Len())
}

func TestLocalLimiter_SweepsIdleKeys(t *testing.T) {
	clock := newFakeClock()
	l := NewLocalLimiter(5, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := l.Allow(ctx, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 10, l.Len())

	clock.Advance(2 * time.Minute)
	_, err := l.Allow(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
}

func TestLimiterImplementations(t *testing.T) {
	var _ Limiter = (*NoopLimiter)(nil)
	var _ Limiter = (*LocalLimiter)(nil)
	var _ Limiter = (*RedisLimiter)(nil)
}
