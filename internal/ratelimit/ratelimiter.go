package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the sliding window length used unless overridden
const DefaultWindow = time.Minute

// slidingWindow trims the window, admits the request if there is room and
// reports {allowed, count, resetAtMillis}. Running it as one script keeps
// concurrent replicas from overshooting the limit.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
	local count = redis.call('ZCARD', key)
	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, ARGV[4])
		count = count + 1
		allowed = 1
	end
	redis.call('PEXPIRE', key, window * 2)

	local reset = now + window
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if oldest[2] then
		reset = tonumber(oldest[2]) + window
	end
	return {allowed, count, reset}
`)

// RateLimiter implements distributed sliding-window rate limiting on Redis
// sorted sets. Each admitted request is a member scored by its arrival time.
type RateLimiter struct {
	client *redis.Client
	window time.Duration
	prefix string
	now    func() time.Time
}

// Option configures a RateLimiter
type Option func(*RateLimiter)

// WithWindow sets the sliding window length
func WithWindow(d time.Duration) Option {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.window = d
		}
	}
}

// WithKeyPrefix sets the Redis key prefix, "ratelimit" by default
func WithKeyPrefix(prefix string) Option {
	return func(rl *RateLimiter) {
		rl.prefix = prefix
	}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		client: client,
		window: DefaultWindow,
		prefix: "ratelimit",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether a request for key fits within limit
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	allowed, _, _, err := rl.AllowWithDetails(ctx, key, limit)
	return allowed, err
}

// AllowWithDetails checks and records a request for key.
// It returns whether the request is allowed, how many requests remain in
// the window and when the oldest request leaves it. A limit <= 0 means
// unlimited: remaining is -1 and resetAt is zero.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := rl.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	res, err := slidingWindow.Run(ctx, rl.client, []string{rl.key(key)},
		now, rl.window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check returned %d values", len(res))
	}

	allowed := res[0] == 1
	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, time.UnixMilli(res[2]), nil
}

// GetCurrentUsage returns the number of requests in the current window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	k := rl.key(key)
	windowStart := rl.now().Add(-rl.window).UnixMilli()

	if err := rl.client.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(windowStart, 10)).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset clears the window for key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.key(key)).Err()
}

func (rl *RateLimiter) key(key string) string {
	return rl.prefix + ":" + key
}
