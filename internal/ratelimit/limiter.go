package ratelimit

import (
	"context"
	"time"
)

// Limiter enforces a per-key request budget
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Decision is the outcome of one rate limit check.
// Remaining is -1 when the key is not limited.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// unlimited is the decision for keys without a budget
var unlimited = Decision{Allowed: true, Remaining: -1}

// NoopLimiter allows all requests
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return unlimited, nil
}

// RedisLimiter applies a fixed per-minute limit through a RateLimiter
type RedisLimiter struct {
	rl    *RateLimiter
	limit int
}

// NewRedisLimiter allows limit requests per key within the RateLimiter's window
func NewRedisLimiter(rl *RateLimiter, limit int) *RedisLimiter {
	return &RedisLimiter{rl: rl, limit: limit}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	allowed, remaining, resetAt, err := l.rl.AllowWithDetails(ctx, key, l.limit)
	if err != nil {
		return Decision{}, err
	}
	if l.limit <= 0 {
		return unlimited, nil
	}
	return Decision{Allowed: allowed, Limit: l.limit, Remaining: remaining, ResetAt: resetAt}, nil
}
