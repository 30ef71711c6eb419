// Package httpserver runs the client-facing HTTP surface: the chi
// router that upgrades the websocket session transport and exposes
// /healthz for the load balancer.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"

	"github.com/chatmesh/gateway/internal/handler/ws"
	"github.com/chatmesh/gateway/internal/registry"
)

// Addr is the client-facing HTTP listen address, a distinct type so
// fx's type-based injection never collides with other strings.
type Addr string

func newRouter(wsHandler *ws.Handler, conns *registry.ConnRegistry, streams *registry.StreamRegistry, members *registry.MembershipRegistry, inflight *registry.InFlightRegistry, limiter *registry.RateLimiter) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// /stats exposes the bounded registries' occupancy for infra/tui's
	// dashboard and any other operator tooling. Ops surface only, not
	// part of the client wire contract.
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		snapshot := registry.Snapshot(conns, streams, members, inflight, limiter)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})
	r.Handle("/ws", wsHandler)

	return r
}

// Module runs the HTTP server for the lifetime of the fx app.
var Module = fx.Module(
	"httpserver",
	fx.Provide(ws.NewServices, ws.NewHandler, newRouter),
	fx.Invoke(func(lc fx.Lifecycle, router *chi.Mux, addr Addr, logger *slog.Logger) {
		srv := &http.Server{Addr: string(addr), Handler: router}

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("http server stopped", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
