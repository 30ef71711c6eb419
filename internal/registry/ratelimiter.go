package registry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
)

// RateLimiterConfig holds the limiter tunables: a 60s wall-clock
// window and a per-user operation ceiling.
type RateLimiterConfig struct {
	Window time.Duration
	Max    int64
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Window: 60 * time.Second, Max: 40}
}

// RateLimiter enforces the per-user fixed-window budget: a counter
// backed by the cache with an in-process bounded fallback. The config
// is an atomic snapshot so hot reload can swap it under live traffic.
type RateLimiter struct {
	cfg    atomic.Pointer[RateLimiterConfig]
	cache  port.Cache
	clock  port.Clock
	logger *slog.Logger

	// fallback is a bounded registry (max 2,000 buckets) used when the
	// cache is unavailable.
	fallback *Bounded[string, int64]
}

func NewRateLimiter(cfg RateLimiterConfig, cache port.Cache, clock port.Clock, logger *slog.Logger) *RateLimiter {
	r := &RateLimiter{
		cache:    cache,
		clock:    clock,
		logger:   logger,
		fallback: NewBounded[string, int64](2000),
	}
	r.cfg.Store(&cfg)
	return r
}

// SetConfig swaps the limiter tunables; config hot reload calls it.
func (r *RateLimiter) SetConfig(cfg RateLimiterConfig) { r.cfg.Store(&cfg) }

func (r *RateLimiter) windowIndex() int64 {
	return r.clock.Now().UnixMilli() / r.cfg.Load().Window.Milliseconds()
}

// Check increments the counter for userID's current window and
// reports port.KindRateLimited once the post-increment count exceeds
// Max.
func (r *RateLimiter) Check(ctx context.Context, userID uuid.UUID) error {
	cfg := r.cfg.Load()
	idx := r.windowIndex()
	key := domain.CacheKeys.RateBkt(userID, idx)

	count, err := r.cache.Incr(ctx, key, cfg.Window)
	if err != nil {
		// Cache failure: degrade to the in-process fallback registry.
		r.logger.Warn("rate limiter cache incr failed, using local fallback", "err", err, "user_id", userID)
		count = r.incrFallback(key)
	}

	if count > cfg.Max {
		return port.New(port.KindRateLimited, "rate limit exceeded")
	}
	return nil
}

func (r *RateLimiter) incrFallback(key string) int64 {
	for {
		cur, _ := r.fallback.Get(key)
		next := cur + 1
		if evicted, didEvict := r.fallback.Put(key, next); didEvict {
			r.logger.Debug("rate limiter fallback evicted bucket", "evicted_key", evicted)
		}
		got, _ := r.fallback.Get(key)
		if got == next {
			return next
		}
		// extremely rare race with a concurrent writer to the same key; retry
		if got > next {
			return got
		}
	}
}

// FallbackLen reports the in-process fallback registry's occupancy,
// surfaced in HubStats and janitor logs.
func (r *RateLimiter) FallbackLen() int { return r.fallback.Len() }

// DropWindowsOlderThan removes fallback entries whose embedded window
// index is more than staleWindows old relative to the current index.
func (r *RateLimiter) DropWindowsOlderThan(staleWindows int64) int {
	current := r.windowIndex()
	return r.fallback.RemoveIf(func(key string, _ int64) bool {
		idx := parseWindowIndex(key)
		return current-idx > staleWindows
	})
}

// Clear drops every fallback bucket; the janitor calls it under hard
// memory pressure.
func (r *RateLimiter) Clear() int {
	return r.fallback.RemoveIf(func(string, int64) bool { return true })
}

func parseWindowIndex(key string) int64 {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			var v int64
			for _, c := range key[i+1:] {
				if c < '0' || c > '9' {
					return 0
				}
				v = v*10 + int64(c-'0')
			}
			return v
		}
	}
	return 0
}
