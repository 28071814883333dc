package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process token bucket per key, refilled so that limit
// requests are admitted per window. It is used when no Redis is configured.
type LocalLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter allows limit requests per key per window. A limit <= 0 disables limiting.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l.limit <= 0 {
		return unlimited, nil
	}

	now := l.now()
	interval := l.window / time.Duration(l.limit)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(interval), l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	d := Decision{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: int(math.Max(0, math.Floor(tokens))),
	}
	if allowed {
		// time until the bucket is full again
		d.ResetAt = now.Add(time.Duration((float64(l.limit) - tokens) * float64(interval)))
	} else {
		// time until the next token
		d.ResetAt = now.Add(time.Duration((1 - tokens) * float64(interval)))
	}
	return d, nil
}

// sweep drops buckets idle for longer than a window, at most once per window.
// An idle bucket has refilled completely, so dropping it loses no state.
func (l *LocalLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.window {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
