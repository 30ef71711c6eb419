package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/chatmesh/gateway/internal/port"
)

// Config selects the transport: "amqp" dials a real broker for a
// production fleet, anything else (including the empty string) falls
// back to the in-process gochannel transport for single-instance,
// local-dev and test runs.
type Config struct {
	Driver     string
	AMQPURL    string
	InstanceID string
}

// Module builds the concrete PubSub the core's Fanout/Relay depend on,
// selecting the watermill transport from Config and closing it on
// shutdown.
var Module = fx.Module(
	"pubsub",
	fx.Provide(
		fx.Annotate(newBus, fx.As(new(port.PubSub))),
	),
)

func newBus(lc fx.Lifecycle, cfg Config, logger *slog.Logger) (*Bus, error) {
	var publisher message.Publisher
	var subscriber message.Subscriber
	var err error

	if cfg.Driver == "amqp" {
		publisher, subscriber, err = NewAMQPTransport(cfg.AMQPURL, logger)
	} else {
		publisher, subscriber, err = NewLocalTransport(logger)
	}
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = publisher.Close()
			return subscriber.Close()
		},
	})

	return NewBus(publisher, subscriber, cfg.InstanceID, logger), nil
}
