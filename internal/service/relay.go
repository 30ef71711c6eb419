package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
)

// Relay lazily subscribes this instance to a room's bus topic the first
// time a local session joins it, then relays every remote-origin event
// it receives to local sessions via Fanout. Rooms nobody on this
// instance has ever joined are never subscribed to, keeping idle
// instances quiet: an instance should not receive traffic for rooms
// it has no local members in.
type Relay struct {
	bus    port.PubSub
	fanout *Fanout
	logger *slog.Logger

	mu         sync.Mutex
	subscribed map[uuid.UUID]bool
}

func NewRelay(bus port.PubSub, fanout *Fanout, logger *slog.Logger) *Relay {
	return &Relay{bus: bus, fanout: fanout, logger: logger, subscribed: make(map[uuid.UUID]bool)}
}

// EnsureSubscribed subscribes to roomID's bus topic exactly once per
// instance lifetime.
func (r *Relay) EnsureSubscribed(ctx context.Context, roomID uuid.UUID) {
	r.mu.Lock()
	if r.subscribed[roomID] {
		r.mu.Unlock()
		return
	}
	r.subscribed[roomID] = true
	r.mu.Unlock()

	topic := domain.RoomTopic(roomID)
	if err := r.bus.Subscribe(ctx, topic, r.onEnvelope); err != nil {
		r.logger.Error("room topic subscribe failed", "err", err, "room_id", roomID, "topic", topic)
		r.mu.Lock()
		delete(r.subscribed, roomID)
		r.mu.Unlock()
	}
}

func (r *Relay) onEnvelope(_ context.Context, topic, _originInstance, kind string, payload []byte) {
	roomID, err := domain.RoomIDFromTopic(topic)
	if err != nil {
		r.logger.Warn("relay: topic did not decode to a room id", "topic", topic)
		return
	}
	r.fanout.DeliverRemote(roomID, kind, json.RawMessage(payload))
}
