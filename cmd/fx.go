package cmd

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/chatmesh/gateway/config"
	"github.com/chatmesh/gateway/infra/discovery"
	"github.com/chatmesh/gateway/infra/grpcadmin"
	"github.com/chatmesh/gateway/infra/httpserver"
	"github.com/chatmesh/gateway/infra/obs"
	"github.com/chatmesh/gateway/internal/adapter/fake"
	"github.com/chatmesh/gateway/internal/adapter/middleware"
	"github.com/chatmesh/gateway/internal/adapter/pubsub"
	"github.com/chatmesh/gateway/internal/port"
	"github.com/chatmesh/gateway/internal/registry"
	"github.com/chatmesh/gateway/internal/service"
)

// NewApp assembles the fx graph: ambient stack (config, logging,
// tracing), the core registries and services, the fake out-of-scope
// adapters (auth, store, cache and AI are external collaborators; a
// production build swaps fake.Module for real adapters without
// touching anything else), the cross-instance bus, and the three
// transports (client websocket, admin gRPC, Consul registration).
func NewApp(cfg *config.Config) *fx.App {
	instance := instanceID(cfg)

	modules := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			func() string { return cfg.ServiceName },
			obs.ProvideLogger,
			obs.ProvideTracerProvider,
			func() grpcadmin.Addr { return grpcadmin.Addr(cfg.AdminGRPC.ListenAddr) },
			func() httpserver.Addr { return httpserver.Addr(cfg.HTTP.ListenAddr) },
			func() pubsub.Config {
				return pubsub.Config{
					Driver:     cfg.Bus.Driver,
					AMQPURL:    cfg.Bus.AMQPURL,
					InstanceID: instance,
				}
			},
			func() registry.RateLimiterConfig { return rateLimiterConfig(cfg) },
			func() service.HistoryConfig { return historyConfig(cfg) },
			func() service.IngestConfig { return ingestConfig(cfg) },
			func() service.JanitorConfig { return janitorConfig(cfg) },
			func(srv *grpcadmin.Server) service.HealthSink { return srv },
		),
		registry.Module,
		fake.Module,
		pubsub.Module,
		service.Module,
		httpserver.Module,
		grpcadmin.Module,

		// Cross-cutting decoration: the AI generator gets outcome
		// logging, the cache gets hit/miss metrics.
		fx.Decorate(middleware.WrapAIGenerator),
		fx.Decorate(func(next port.Cache, metrics port.Metrics) port.Cache {
			return middleware.WrapCache(next, metrics)
		}),

		fx.Invoke(applyTunables),
		fx.Invoke(runJanitor),
	}

	if cfg.Discovery.Enabled {
		modules = append(modules,
			fx.Provide(
				func() discovery.RegistrationParams {
					return discovery.RegistrationParams{
						ServiceName: cfg.ServiceName,
						InstanceID:  instance,
						Host:        "0.0.0.0",
						Port:        adminGRPCPort(cfg),
					}
				},
				func(logger *slog.Logger) (*discovery.Registrar, error) {
					return discovery.NewRegistrar(cfg.Discovery.Addr, logger)
				},
			),
			discovery.Module,
		)
	}

	return fx.New(modules...)
}

// applyTunables pushes the loaded tunables into the constructed
// components and keeps pushing on every config hot reload, so editing
// the config file retunes a running instance instead of only mutating
// an otherwise-unread struct.
func applyTunables(
	cfg *config.Config,
	limiter *registry.RateLimiter,
	history *service.History,
	ingest *service.Ingest,
	janitor *service.Janitor,
	conns *registry.ConnRegistry,
) {
	conns.SetPreemptTimeout(cfg.Connection.PreemptTimeout)
	cfg.OnReload(func(c *config.Config) {
		limiter.SetConfig(rateLimiterConfig(c))
		history.SetConfig(historyConfig(c))
		ingest.SetConfig(ingestConfig(c))
		janitor.SetConfig(janitorConfig(c))
		conns.SetPreemptTimeout(c.Connection.PreemptTimeout)
	})
}

func rateLimiterConfig(cfg *config.Config) registry.RateLimiterConfig {
	return registry.RateLimiterConfig{Window: cfg.RateLimit.Window, Max: cfg.RateLimit.Max}
}

func historyConfig(cfg *config.Config) service.HistoryConfig {
	return service.HistoryConfig{
		DefaultLimit: cfg.History.DefaultLimit,
		FetchTimeout: cfg.History.FetchTimeout,
		AccessTTL:    cfg.History.AccessTTL,
		ResultTTL:    cfg.History.ResultTTL,
		RetryBase:    cfg.History.RetryBase,
		RetryFactor:  cfg.History.RetryFactor,
		RetryMax:     cfg.History.RetryMax,
		RetryCapWait: cfg.History.RetryCapWait,
	}
}

func ingestConfig(cfg *config.Config) service.IngestConfig {
	models := make(map[string]bool, len(cfg.AI.Models))
	for _, m := range cfg.AI.Models {
		models[m] = true
	}
	return service.IngestConfig{AIModels: models, HistoryLimit: cfg.History.DefaultLimit}
}

func janitorConfig(cfg *config.Config) service.JanitorConfig {
	return service.JanitorConfig{
		Interval:        cfg.Janitor.Interval,
		RateWindowStale: cfg.Janitor.RateWindowStale,
		InFlightMaxAge:  cfg.Janitor.InFlightMaxAge,
		SoftHeapBytes:   cfg.Janitor.SoftHeapBytes,
		HardHeapBytes:   cfg.Janitor.HardHeapBytes,
	}
}

// runJanitor ties the janitor's sweep loop to the app lifecycle:
// started on a goroutine at boot, stopped before exit.
func runJanitor(lc fx.Lifecycle, j *service.Janitor) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go j.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			j.Stop()
			return nil
		},
	})
}

// instanceID defaults to a freshly generated UUID when the operator
// hasn't pinned one, so every process in the fleet still gets a stable
// per-run identity for the bus envelope's origin tag and Consul's
// service ID.
func instanceID(cfg *config.Config) string {
	if cfg.Discovery.InstanceID != "" {
		return cfg.Discovery.InstanceID
	}
	return uuid.NewString()
}

// adminGRPCPort extracts the numeric port from AdminGRPC.ListenAddr
// (":9090" form) for Consul registration; a malformed address falls
// back to 0, which Consul will happily record but nothing will route
// to — an operator config error, not one this process can repair.
func adminGRPCPort(cfg *config.Config) int {
	addr := cfg.AdminGRPC.ListenAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port := 0
			for _, c := range addr[i+1:] {
				if c < '0' || c > '9' {
					return 0
				}
				port = port*10 + int(c-'0')
			}
			return port
		}
	}
	return 0
}
