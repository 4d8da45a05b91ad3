// Package ratelimit implements the two independent admission gates of C1:
// a per-user daily quota and a global sliding-window throttle, both backed
// by Redis the way the teacher's dedupe/cache helpers use it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"deepresearch/internal/config"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// Limiter enforces the per-user daily quota and the global sliding window.
type Limiter struct {
	client redis.UniversalClient

	dailyLimit   int
	globalMax    int
	globalWindow time.Duration
	admins       map[string]struct{}
}

// New builds a Limiter from configuration. client may be nil in tests; all
// checks fail open (Allowed=true) when the store is unreachable or absent.
func New(cfg config.RateLimitConfig, client redis.UniversalClient) *Limiter {
	admins := make(map[string]struct{}, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		admins[id] = struct{}{}
	}
	window := time.Duration(cfg.GlobalWindowMillis) * time.Millisecond
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Limiter{
		client:       client,
		dailyLimit:   cfg.DailyRequestLimit,
		globalMax:    cfg.GlobalMax,
		globalWindow: window,
		admins:       admins,
	}
}

// IsAdmin reports whether userID is on the configured admin allow-list;
// admins bypass the per-user daily quota entirely.
func (l *Limiter) IsAdmin(userID string) bool {
	_, ok := l.admins[userID]
	return ok
}

// CheckDaily admits or denies userID against the per-user daily quota keyed
// by "ratelimit:daily:<user>:<day>", expiring at local end-of-day.
func (l *Limiter) CheckDaily(ctx context.Context, userID string) Decision {
	if l.IsAdmin(userID) {
		return Decision{Allowed: true, Remaining: l.dailyLimit}
	}
	now := time.Now()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	if l.client == nil {
		return Decision{Allowed: true, Remaining: l.dailyLimit, ResetTime: endOfDay}
	}

	key := fmt.Sprintf("ratelimit:daily:%s:%s", userID, now.Format("2006-01-02"))
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("ratelimit_daily_store_unreachable_fail_open")
		return Decision{Allowed: true, Remaining: l.dailyLimit, ResetTime: endOfDay}
	}
	if count == 1 {
		if err := l.client.ExpireAt(ctx, key, endOfDay).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("ratelimit_daily_expire_failed")
		}
	}
	if int(count) > l.dailyLimit {
		return Decision{Allowed: false, Remaining: 0, ResetTime: endOfDay}
	}
	return Decision{Allowed: true, Remaining: l.dailyLimit - int(count), ResetTime: endOfDay}
}

// checkGlobalOnce admits against the global sliding window keyed by the
// current window bucket, without retrying on denial.
func (l *Limiter) checkGlobalOnce(ctx context.Context) Decision {
	now := time.Now()
	bucket := now.UnixMilli() / l.globalWindow.Milliseconds()
	resetTime := time.UnixMilli((bucket + 1) * l.globalWindow.Milliseconds())
	if l.client == nil {
		return Decision{Allowed: true, Remaining: l.globalMax, ResetTime: resetTime}
	}

	key := fmt.Sprintf("ratelimit:global:%d", bucket)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("ratelimit_global_store_unreachable_fail_open")
		return Decision{Allowed: true, Remaining: l.globalMax, ResetTime: resetTime}
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.globalWindow*2).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("ratelimit_global_expire_failed")
		}
	}
	if int(count) > l.globalMax {
		return Decision{Allowed: false, Remaining: 0, ResetTime: resetTime}
	}
	return Decision{Allowed: true, Remaining: l.globalMax - int(count), ResetTime: resetTime}
}

// CheckGlobal admits against the global sliding window, retrying up to
// maxRetries times by sleeping until the window rolls over when denied.
func (l *Limiter) CheckGlobal(ctx context.Context, maxRetries int) Decision {
	d := l.checkGlobalOnce(ctx)
	for attempt := 0; !d.Allowed && attempt < maxRetries; attempt++ {
		wait := time.Until(d.ResetTime)
		if wait <= 0 {
			wait = l.globalWindow
		}
		select {
		case <-ctx.Done():
			return d
		case <-time.After(wait):
		}
		d = l.checkGlobalOnce(ctx)
	}
	return d
}

// Admit runs the daily quota then the global window, short-circuiting on the
// first denial. A 429 response should surface whichever Decision is returned.
func (l *Limiter) Admit(ctx context.Context, userID string, globalMaxRetries int) Decision {
	if d := l.CheckDaily(ctx, userID); !d.Allowed {
		return d
	}
	return l.CheckGlobal(ctx, globalMaxRetries)
}
