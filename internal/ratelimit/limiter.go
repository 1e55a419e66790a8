package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/snowskill/snowskill-backend/pkg/config"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

// Counter is the shared fixed-window store. pkg/redis.Client satisfies it.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// Decision describes the state of the caller's current window.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return ((wait + time.Second - 1) / time.Second) * time.Second
}

// Limiter counts requests per ip and path in aligned fixed windows.
type Limiter struct {
	enabled  bool
	window   time.Duration
	max      int
	store    Counter
	fallback *cache.Cache
	logg     *logger.Logger
	now      func() time.Time
}

func New(cfg config.RateLimitConfig, store Counter, logg *logger.Logger) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		enabled:  cfg.Enabled && cfg.Max > 0,
		window:   window,
		max:      cfg.Max,
		store:    store,
		fallback: cache.New(window, 2*window),
		logg:     logg,
		now:      time.Now,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow increments the counter for ip+path. A failing Redis degrades to the
// process-local counter rather than rejecting traffic.
func (l *Limiter) Allow(ctx context.Context, ip, path string) (Decision, error) {
	now := l.now()
	if !l.Enabled() {
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max, ResetAt: now}, nil
	}

	bucket := now.UnixNano() / int64(l.window)
	resetAt := time.Unix(0, (bucket+1)*int64(l.window))
	scope := fmt.Sprintf("%s:%s:%d", strings.TrimSpace(ip), path, bucket)

	count, err := l.increment(ctx, scope)
	if err != nil {
		return Decision{}, err
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.max),
		Limit:     l.max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (l *Limiter) increment(ctx context.Context, scope string) (int64, error) {
	if l.store != nil {
		count, err := l.store.IncrWithTTL(ctx, l.store.RateLimitKey(scope), l.window)
		if err == nil {
			return count, nil
		}
		if l.logg != nil {
			l.logg.Warn(l.logg.WithField(ctx, "error", err.Error()), "ratelimit.redis_unavailable")
		}
	}

	key := "ratelimit:" + scope
	// Add fails only when the window's entry already exists.
	_ = l.fallback.Add(key, int64(0), l.window)
	return l.fallback.IncrementInt64(key, 1)
}
