package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
)

// Presence relays ephemeral, unpersisted room-scoped signals: typing
// indicators and status changes. Neither is rate-limited — they are
// cheap relays with no persistence behind them.
type Presence struct {
	rooms  *Rooms
	fanout *Fanout
}

func NewPresence(rooms *Rooms, fanout *Fanout) *Presence {
	return &Presence{rooms: rooms, fanout: fanout}
}

// Typing relays userTyping to the user's current room peers.
func (p *Presence) Typing(ctx context.Context, userID uuid.UUID, isTyping bool) {
	roomID, ok := p.rooms.CurrentRoom(userID)
	if !ok {
		return
	}
	excl := userID
	p.fanout.BroadcastRoom(ctx, roomID, domain.EvUserTyping, map[string]any{
		"userId":   userID.String(),
		"isTyping": isTyping,
	}, &excl)
}

// UpdateStatus relays userStatusUpdate to the user's current room peers.
func (p *Presence) UpdateStatus(ctx context.Context, userID uuid.UUID, status string) {
	roomID, ok := p.rooms.CurrentRoom(userID)
	if !ok {
		return
	}
	excl := userID
	p.fanout.BroadcastRoom(ctx, roomID, domain.EvUserStatusUpdate, map[string]any{
		"userId": userID.String(),
		"status": status,
	}, &excl)
}
