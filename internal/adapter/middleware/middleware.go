// Package middleware holds the cross-cutting decorators fx.Decorate
// wraps around the external collaborators: outcome logging for the AI
// generator and hit/miss metrics for the cache, keeping the core
// services free of observability plumbing.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatmesh/gateway/internal/port"
)

type aiMiddleware struct {
	next   port.AIGenerator
	logger *slog.Logger
}

// WrapAIGenerator logs each stream's outcome and duration without the
// streaming coordinator knowing it is being observed.
func WrapAIGenerator(next port.AIGenerator, logger *slog.Logger) port.AIGenerator {
	return &aiMiddleware{next: next, logger: logger}
}

func (m *aiMiddleware) Stream(ctx context.Context, query, model string) (<-chan port.AIChunk, <-chan error) {
	start := time.Now()
	chunks, done := m.next.Stream(ctx, query, model)

	out := make(chan error, 1)
	go func() {
		defer close(out)
		err := <-done
		// [OBSERVABILITY] Log the outcome without polluting the coordinator.
		if err != nil {
			m.logger.Error("AI_STREAM_FAILED", "err", err, "model", model, "duration", time.Since(start))
		} else {
			m.logger.Debug("AI_STREAM_COMPLETE", "model", model, "duration", time.Since(start))
		}
		out <- err
	}()

	return chunks, out
}

type cacheMiddleware struct {
	next    port.Cache
	metrics port.Metrics
}

// WrapCache counts hits, misses and failures on every cache operation.
func WrapCache(next port.Cache, metrics port.Metrics) port.Cache {
	return &cacheMiddleware{next: next, metrics: metrics}
}

func (m *cacheMiddleware) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := m.next.Get(ctx, key)
	switch {
	case err != nil:
		m.metrics.Inc("cache_get_error")
	case ok:
		m.metrics.Inc("cache_hit")
	default:
		m.metrics.Inc("cache_miss")
	}
	return value, ok, err
}

func (m *cacheMiddleware) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := m.next.Set(ctx, key, value, ttl)
	if err != nil {
		m.metrics.Inc("cache_set_error")
	}
	return err
}

func (m *cacheMiddleware) Delete(ctx context.Context, key string) error {
	err := m.next.Delete(ctx, key)
	if err != nil {
		m.metrics.Inc("cache_delete_error")
	}
	return err
}

func (m *cacheMiddleware) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := m.next.Incr(ctx, key, ttl)
	if err != nil {
		m.metrics.Inc("cache_incr_error")
	}
	return n, err
}
