package registry

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/chatmesh/gateway/internal/port"
)

// Module provides every bounded registry as a singleton: each is an
// explicit concurrency-safe registry created at startup and passed to
// components; no process-wide singletons.
var Module = fx.Module(
	"registry",
	fx.Provide(
		NewConnRegistry,
		NewMembershipRegistry,
		NewStreamRegistry,
		NewInFlightRegistry,
		func(cfg RateLimiterConfig, cache port.Cache, clock port.Clock, logger *slog.Logger) *RateLimiter {
			return NewRateLimiter(cfg, cache, clock, logger)
		},
	),
)
