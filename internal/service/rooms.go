package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
	"github.com/chatmesh/gateway/internal/registry"
)

// Rooms owns membership transitions: join/leave/current-room with
// their system-message and presence-broadcast side effects.
type Rooms struct {
	roomRepo   port.RoomRepo
	userRepo   port.UserRepo
	messages   port.MessageRepo
	clock      port.Clock
	membership *registry.MembershipRegistry
	conns      *registry.ConnRegistry
	fanout     *Fanout
	relay      *Relay
	history    *History
	logger     *slog.Logger
}

func NewRooms(roomRepo port.RoomRepo, userRepo port.UserRepo, messages port.MessageRepo, clock port.Clock, membership *registry.MembershipRegistry, conns *registry.ConnRegistry, fanout *Fanout, relay *Relay, history *History, logger *slog.Logger) *Rooms {
	return &Rooms{
		roomRepo:   roomRepo,
		userRepo:   userRepo,
		messages:   messages,
		clock:      clock,
		membership: membership,
		conns:      conns,
		fanout:     fanout,
		relay:      relay,
		history:    history,
		logger:     logger,
	}
}

// JoinResult carries what a successful join returns: the populated
// participants set plus the user's first page of history.
type JoinResult struct {
	Participants []uuid.UUID
	History      *HistoryPage
}

// Join is idempotent for rejoins, leaves-then-joins when switching
// rooms, persists the participant add, announces a system message
// asynchronously, and loads the user's first history page.
func (r *Rooms) Join(ctx context.Context, userID, roomID uuid.UUID) (*JoinResult, error) {
	if current, ok := r.membership.Get(userID); ok && current == roomID {
		participants, err := r.roomRepo.IsParticipant(ctx, roomID, userID)
		if err != nil {
			return nil, port.Wrap(port.KindNotFound, "room lookup failed", err)
		}
		if !participants {
			return nil, port.New(port.KindAccessDenied, "not a participant")
		}
		room, err := r.roomRepo.GetRoom(ctx, roomID)
		if err != nil {
			return nil, port.Wrap(port.KindNotFound, "room lookup failed", err)
		}
		// A reconnect replaces the connection entry, which starts with no
		// room; point it back at this room so room fan-out reaches it.
		joined := roomID
		r.conns.SetCurrentRoom(userID, &joined)
		page, _ := r.history.Fetch(ctx, userID, roomID, nil, 0)
		return &JoinResult{Participants: room.Participants, History: page}, nil
	}

	// Switching rooms: the old room's leave broadcast fires before the
	// new join succeeds externally.
	if current, ok := r.membership.Get(userID); ok && current != roomID {
		r.leaveInternal(ctx, userID, current, false)
	}

	if _, err := r.roomRepo.GetRoom(ctx, roomID); err != nil {
		return nil, port.Wrap(port.KindNotFound, "room not found", err)
	}

	isParticipant, err := r.roomRepo.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, port.Wrap(port.KindNotFound, "room lookup failed", err)
	}
	if !isParticipant {
		return nil, port.New(port.KindAccessDenied, "not invited to room")
	}

	participants, err := r.roomRepo.AddParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, port.Wrap(port.KindPersistFailed, "failed to add participant", err)
	}

	r.membership.Set(userID, roomID)
	joined := roomID
	r.conns.SetCurrentRoom(userID, &joined)

	// First local member of this room on this instance: start relaying
	// the room's bus topic so remote-origin events reach local sessions.
	if r.relay != nil {
		r.relay.EnsureSubscribed(context.Background(), roomID)
	}

	r.announceAsync(roomID, userID, "joined", domain.EvUserJoined)
	r.fanout.BroadcastRoom(ctx, roomID, domain.EvParticipantsUpdate, map[string]any{
		"roomId":       roomID.String(),
		"participants": uuidStrings(participants),
	}, nil)

	page, err := r.history.Fetch(ctx, userID, roomID, nil, 0)
	if err != nil {
		r.logger.Warn("initial history load failed", "err", err, "room_id", roomID)
	}

	return &JoinResult{Participants: participants, History: page}, nil
}

// Leave is the graceful-disconnect path: persist a "disconnected"
// system message, remove the participant, broadcast. Pre-emption
// disconnects must not call this — they emit no leave messages.
func (r *Rooms) Leave(ctx context.Context, userID uuid.UUID) {
	roomID, ok := r.membership.Get(userID)
	if !ok {
		return
	}
	r.leaveInternal(ctx, userID, roomID, true)
}

func (r *Rooms) leaveInternal(ctx context.Context, userID, roomID uuid.UUID, announce bool) {
	participants, err := r.roomRepo.RemoveParticipant(ctx, roomID, userID)
	if err != nil {
		r.logger.Warn("remove participant failed", "err", err, "room_id", roomID)
	}
	r.membership.Clear(userID)
	r.conns.SetCurrentRoom(userID, nil)

	if announce {
		r.announceAsync(roomID, userID, "disconnected", domain.EvUserLeft)
	}

	r.fanout.BroadcastRoom(ctx, roomID, domain.EvParticipantsUpdate, map[string]any{
		"roomId":       roomID.String(),
		"participants": uuidStrings(participants),
	}, nil)
}

// CurrentRoom reports the user's joined room, if any.
func (r *Rooms) CurrentRoom(userID uuid.UUID) (uuid.UUID, bool) {
	return r.membership.Get(userID)
}

// announceAsync persists a system message in the background and
// broadcasts it to the room.
func (r *Rooms) announceAsync(roomID, userID uuid.UUID, verb string, event string) {
	go func() {
		bgCtx := context.Background()
		user, err := r.userRepo.GetUser(bgCtx, userID)
		name := "someone"
		if err == nil {
			name = user.Name
		}

		msg := &domain.Message{
			ID:        uuid.New(),
			RoomID:    roomID,
			SenderID:  uuid.Nil,
			Content:   name + " " + verb,
			Kind:      domain.KindSystem,
			CreatedAt: r.clock.Now().UnixMilli(),
		}
		if err := r.messages.Create(bgCtx, msg); err != nil {
			r.logger.Warn("system message persist failed", "err", err, "room_id", roomID)
			return
		}

		r.fanout.BroadcastRoom(bgCtx, roomID, event, map[string]any{
			"roomId": roomID.String(),
			"userId": userID.String(),
			"name":   name,
		}, nil)
	}()
}
