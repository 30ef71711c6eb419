// Package obs wires the ambient observability stack: log/slog as the
// single logging API, bridged into OTel log records via
// contrib/bridges/otelslog, plus the OTel tracer provider, installed
// globally so instrumentation such as the admin gRPC server's otelgrpc
// stats handler records its spans through it.
package obs

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// ProvideLogger builds the process-wide *slog.Logger: a text handler to
// stderr fanned out through the otelslog bridge so every log record
// also becomes a correlated OTel log record.
func ProvideLogger(serviceName string) *slog.Logger {
	bridge := otelslog.NewHandler(serviceName)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(multiHandler{handlers: []slog.Handler{handler, bridge}})
	slog.SetDefault(logger)
	return logger
}

// multiHandler fans a single slog record out to every wrapped
// handler, pairing a human-readable console handler with the OTel
// bridge handler without losing either.
type multiHandler struct {
	handlers []slog.Handler
}

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return multiHandler{handlers: next}
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return multiHandler{handlers: next}
}

// ProvideTracerProvider builds an OTel SDK tracer provider and installs
// it globally so every component can call otel.Tracer(...) without
// threading a provider through every constructor.
func ProvideTracerProvider(lc fx.Lifecycle, serviceName string) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp
}

// Tracer is the gateway's named tracer on the global provider. The core's
// repo calls, cache calls, bus publishes and AI stream reads open no
// spans on it.
var Tracer = otel.Tracer("chatmesh-gateway")
