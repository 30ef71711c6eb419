package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
)

// ReactionOp is a reaction mutation: add or remove.
type ReactionOp string

const (
	ReactionAdd    ReactionOp = "add"
	ReactionRemove ReactionOp = "remove"
)

// Receipts handles bulk read-receipts and last-writer-wins reactions,
// each broadcast room-wide via the shared Fanout.
type Receipts struct {
	messages port.MessageRepo
	clock    port.Clock
	fanout   *Fanout
	logger   *slog.Logger
}

func NewReceipts(messages port.MessageRepo, clock port.Clock, fanout *Fanout, logger *slog.Logger) *Receipts {
	return &Receipts{messages: messages, clock: clock, fanout: fanout, logger: logger}
}

// MarkRead adds {userId, readAt=now} to each message's readers iff
// not already present — an unordered bulk of single conditional
// updates, idempotent by construction.
func (r *Receipts) MarkRead(ctx context.Context, userID, roomID uuid.UUID, messageIDs []uuid.UUID) error {
	now := r.clock.Now().UnixMilli()

	// Unordered bulk: each id is a single conditional update, fanned
	// out concurrently. Per-id failures are logged, never surfaced.
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range messageIDs {
		id := id
		g.Go(func() error {
			if err := r.messages.AddReader(gCtx, id, domain.Reader{UserID: userID, ReadAt: now}); err != nil {
				r.logger.Warn("mark-read failed for message", "err", err, "message_id", id)
			}
			return nil
		})
	}
	_ = g.Wait()

	excl := userID
	r.fanout.BroadcastRoom(ctx, roomID, domain.EvMessagesRead, map[string]any{
		"userId":     userID.String(),
		"messageIds": uuidStrings(messageIDs),
	}, &excl)
	return nil
}

// React toggles userID's presence in reactions[emoji] with
// last-writer-wins semantics per (messageId, emoji, userId).
func (r *Receipts) React(ctx context.Context, roomID, messageID uuid.UUID, userID uuid.UUID, emoji string, op ReactionOp) (*domain.Message, error) {
	m, err := r.messages.SetReaction(ctx, messageID, emoji, userID, op == ReactionAdd)
	if err != nil {
		return nil, port.Wrap(port.KindOf(err), "reaction update failed", err)
	}

	r.fanout.BroadcastRoom(ctx, roomID, domain.EvMessageReactionUpdate, map[string]any{
		"messageId": messageID.String(),
		"reactions": wireReactions(m),
	}, nil)
	return m, nil
}

func wireReactions(m *domain.Message) map[string][]string {
	out := make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		ids := make([]string, 0, len(users))
		for uid := range users {
			ids = append(ids, uid.String())
		}
		out[emoji] = ids
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
