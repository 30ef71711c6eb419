package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
	"github.com/chatmesh/gateway/internal/registry"
)

// sendTimeout bounds how long a single outbound Send may block a
// fan-out loop: a slow session must not hold up delivery to the rest
// of the room.
const sendTimeout = 2 * time.Second

// Fanout is the shared local-delivery + cross-instance-publish helper
// every room-scoped service uses: local sessions are walked directly
// off the connection registry, and every event is additionally
// published to the bus so other instances' subscribers can relay it
// to their own local sessions.
type Fanout struct {
	conns  *registry.ConnRegistry
	bus    port.PubSub
	logger *slog.Logger
}

func NewFanout(conns *registry.ConnRegistry, bus port.PubSub, logger *slog.Logger) *Fanout {
	return &Fanout{conns: conns, bus: bus, logger: logger}
}

// BroadcastRoom delivers event to every locally-connected session
// currently joined to roomID, excluding exclude (if non-nil), and
// publishes
// the same envelope to the room's bus topic for other instances.
func (f *Fanout) BroadcastRoom(ctx context.Context, roomID uuid.UUID, event string, payload any, exclude *uuid.UUID) {
	f.localRoom(roomID, event, payload, exclude)
	f.publish(ctx, roomID, event, payload)
}

// LocalRoomOnly delivers to local sessions only, skipping the bus
// publish — used where the caller has already published once and is
// re-walking connections (kept separate to avoid accidental double
// publish in composed call sites).
func (f *Fanout) LocalRoomOnly(roomID uuid.UUID, event string, payload any, exclude *uuid.UUID) {
	f.localRoom(roomID, event, payload, exclude)
}

func (f *Fanout) localRoom(roomID uuid.UUID, event string, payload any, exclude *uuid.UUID) {
	f.conns.Range(func(userID uuid.UUID, e *registry.Entry) bool {
		if exclude != nil && userID == *exclude {
			return true
		}
		if room, ok := e.Room(); !ok || room != roomID {
			return true
		}
		e.Conn.Send(event, payload, sendTimeout)
		return true
	})
}

func (f *Fanout) publish(ctx context.Context, roomID uuid.UUID, event string, payload any) {
	if err := f.bus.Publish(ctx, domain.RoomTopic(roomID), event, payload); err != nil {
		// Bus failure never breaks local delivery.
		f.logger.Warn("bus publish failed", "err", err, "room_id", roomID, "event", event)
	}
}

// DeliverRemote delivers an event that originated on another instance
// to local sessions only — it must never republish, or the
// cross-instance amplification guard would be defeated.
func (f *Fanout) DeliverRemote(roomID uuid.UUID, event string, payload any) {
	f.localRoom(roomID, event, payload, nil)
}

// SendToUser delivers event directly to userID's current connection, if
// any connected locally. It returns false if the user has no local
// connection (the caller decides whether that is an error).
func (f *Fanout) SendToUser(userID uuid.UUID, event string, payload any) bool {
	conn, ok := f.conns.Lookup(userID)
	if !ok {
		return false
	}
	return conn.Send(event, payload, sendTimeout)
}
