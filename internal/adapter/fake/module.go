package fake

import (
	"go.uber.org/fx"

	"github.com/chatmesh/gateway/internal/port"
)

// Module wires every fake adapter to the external-collaborator
// interfaces it stands in for: a real deployment replaces this module wholesale with adapters backed
// by the actual auth subsystem, durable store, cache and AI vendor.
var Module = fx.Module(
	"fake-adapters",
	fx.Provide(
		fx.Annotate(NewAuthVerifier, fx.As(new(port.AuthVerifier))),
		fx.Annotate(NewUserRepo, fx.As(new(port.UserRepo))),
		fx.Annotate(NewRoomRepo, fx.As(new(port.RoomRepo))),
		fx.Annotate(NewFileRepo, fx.As(new(port.FileRepo))),
		fx.Annotate(NewMessageRepo, fx.As(new(port.MessageRepo))),
		fx.Annotate(NewCache, fx.As(new(port.Cache))),
		fx.Annotate(NewAIGenerator, fx.As(new(port.AIGenerator))),
		fx.Annotate(func() SystemClock { return SystemClock{} }, fx.As(new(port.Clock))),
		fx.Annotate(NewMetrics, fx.As(new(port.Metrics))),
	),
)
