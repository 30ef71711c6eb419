package service

import "go.uber.org/fx"

// Module provides every core service as a singleton. The
// IngestConfig, HistoryConfig and JanitorConfig values are supplied
// by the app assembly (cmd/fx.go) from the loaded configuration.
var Module = fx.Module(
	"service",
	fx.Provide(
		NewAuthenticator,
		NewFanout,
		NewRelay,
		NewRooms,
		NewHistory,
		NewReceipts,
		NewPresence,
		NewAIStream,
		NewIngest,
		NewJanitor,
	),
)
