package pubsub

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewAMQPTransport builds a publisher/subscriber pair bound to
// amqpURL, one durable fanout exchange per topic with a durable queue
// named "chatmesh.<topic>" for each subscribed topic —
// the production transport for a horizontally-scaled fleet.
func NewAMQPTransport(amqpURL string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	wlogger := watermill.NewSlogLogger(logger)

	config := amqp.NewDurablePubSubConfig(amqpURL, func(topic string) string {
		return "chatmesh." + topic
	})

	publisher, err := amqp.NewPublisher(config, wlogger)
	if err != nil {
		return nil, nil, err
	}

	subscriber, err := amqp.NewSubscriber(config, wlogger)
	if err != nil {
		return nil, nil, err
	}

	return publisher, subscriber, nil
}

// NewLocalTransport builds an in-process publisher/subscriber pair
// over watermill's gochannel implementation — used for
// single-instance deployments, local development, and tests, where no
// broker is available but the same PubSub contract still has to hold.
func NewLocalTransport(logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
		Persistent:          true,
	}, watermill.NewSlogLogger(logger))
	return pubSub, pubSub, nil
}
