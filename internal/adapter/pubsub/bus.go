// Package pubsub adapts watermill publishers/subscribers to
// port.PubSub, carrying the cross-instance bus conventions: one topic
// per room, an envelope of {kind, originInstance, payload}, and
// origin-instance tagging so a subscriber can recognise and drop
// events its own instance already delivered locally.
package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/chatmesh/gateway/internal/port"
)

// envelope is the wire shape published to every room topic.
type envelope struct {
	Kind    string          `json:"kind"`
	Origin  string          `json:"originInstance"`
	Payload json.RawMessage `json:"payload"`
}

// Bus implements port.PubSub over a watermill publisher/subscriber
// pair. The transport constructors supply the two concrete backends:
// AMQP in production, in-process gochannel in dev/test.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	instanceID string
	logger     *slog.Logger
}

func NewBus(publisher message.Publisher, subscriber message.Subscriber, instanceID string, logger *slog.Logger) *Bus {
	return &Bus{publisher: publisher, subscriber: subscriber, instanceID: instanceID, logger: logger}
}

func (b *Bus) Publish(ctx context.Context, topic string, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := envelope{Kind: kind, Origin: b.instanceID, Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	return b.publisher.Publish(topic, msg)
}

// Subscribe binds to the literal topic. Every room has its own topic,
// so no routing-key wildcard matching is required — the caller
// subscribes to exactly the rooms it needs, lazily, as local users
// join them.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler func(ctx context.Context, topic, originInstance, kind string, payload []byte)) error {
	messages, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var env envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				b.logger.Warn("bus envelope decode failed", "err", err, "topic", topic)
				msg.Ack()
				continue
			}
			if env.Origin == b.instanceID {
				// Cross-instance fan-out amplification guard: this
				// instance already delivered the event locally.
				msg.Ack()
				continue
			}
			handler(msg.Context(), topic, env.Origin, env.Kind, env.Payload)
			msg.Ack()
		}
	}()

	return nil
}

var _ port.PubSub = (*Bus)(nil)
