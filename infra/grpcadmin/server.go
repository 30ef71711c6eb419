// Package grpcadmin runs a small admin gRPC surface alongside the
// client-facing websocket transport: the standard grpc_health_v1
// health service (flipped to NOT_SERVING by the janitor under hard
// heap pressure) plus reflection, recovery and logging
// interceptors, and an OTel stats handler — the operability surface a
// horizontally-scaled fleet behind a load balancer needs, entirely
// out of the client's view.
package grpcadmin

import (
	"context"
	"log/slog"
	"net"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Addr is the admin gRPC listen address, a distinct type so fx's
// type-based injection never collides with the many other strings
// flowing through the container.
type Addr string

// Server wraps the admin *grpc.Server plus the health registry the
// janitor toggles.
type Server struct {
	*grpc.Server
	Health *health.Server
	logger *slog.Logger
}

// New builds the admin gRPC server with recovery + logging
// unary/stream interceptors and an otelgrpc stats handler.
func New(logger *slog.Logger) *Server {
	loggingOpts := []logging.Option{
		logging.WithLogOnEvents(logging.FinishCall),
	}

	recoveryOpts := []recovery.Option{
		recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
			logger.Error("admin grpc handler panic", "panic", p)
			return nil
		}),
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recoveryOpts...),
			logging.UnaryServerInterceptor(slogLogger(logger), loggingOpts...),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recoveryOpts...),
			logging.StreamServerInterceptor(slogLogger(logger), loggingOpts...),
		),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{Server: srv, Health: healthSrv, logger: logger}
}

func slogLogger(logger *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		logger.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}

// SetDegraded flips the overall health status to NOT_SERVING; the
// janitor calls this under hard heap pressure so the load balancer
// stops routing new sessions to this instance.
func (s *Server) SetDegraded() {
	s.Health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}

// SetHealthy restores SERVING status once pressure subsides.
func (s *Server) SetHealthy() {
	s.Health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Module runs the admin server on its own listener for the lifetime of
// the fx app.
var Module = fx.Module(
	"admin-grpc",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, srv *Server, addr Addr, logger *slog.Logger) error {
		lis, err := net.Listen("tcp", string(addr))
		if err != nil {
			return err
		}

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
						logger.Error("admin grpc server stopped", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				srv.GracefulStop()
				return nil
			},
		})
		return nil
	}),
)
