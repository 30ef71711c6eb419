package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
	"github.com/chatmesh/gateway/internal/registry"
)

// AIStream coordinates AI responses: one goroutine per AI mention
// that drives the generator, mirrors each chunk into the bounded
// stream registry, and fans out start/chunk/complete/error events to
// the room. The generator sits behind a circuit breaker so a
// persistently failing model backend fails streams fast instead of
// burning a full generation attempt per mention.
type AIStream struct {
	generator port.AIGenerator
	messages  port.MessageRepo
	clock     port.Clock
	streams   *registry.StreamRegistry
	fanout    *Fanout
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

func NewAIStream(generator port.AIGenerator, messages port.MessageRepo, clock port.Clock, streams *registry.StreamRegistry, fanout *Fanout, logger *slog.Logger) *AIStream {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-generator",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &AIStream{generator: generator, messages: messages, clock: clock, streams: streams, fanout: fanout, breaker: breaker, logger: logger}
}

// Start spawns the streaming lifecycle for one AI mention. It returns
// immediately; the stream runs on its own goroutine, room-scoped and
// independent of the initiating user's connection lifetime — streams
// continue if the initiating user disconnects.
func (s *AIStream) Start(ctx context.Context, roomID, userID uuid.UUID, model, query string) {
	sid := uuid.New()
	s.streams.Create(sid, roomID, userID, model)

	now := s.clock.Now().UnixMilli()
	s.fanout.BroadcastRoom(ctx, roomID, domain.EvAIMessageStart, map[string]any{
		"sid":       sid.String(),
		"model":     model,
		"timestamp": now,
	}, nil)

	go s.run(sid, roomID, model, query)
}

func (s *AIStream) run(sid, roomID uuid.UUID, model, query string) {
	ctx := context.Background()

	// The whole generation runs inside the breaker: an open breaker
	// skips the generator entirely and lands in the error path below.
	_, err := s.breaker.Execute(func() (any, error) {
		chunks, done := s.generator.Stream(ctx, query, model)

		for chunk := range chunks {
			full, ok := s.streams.AppendChunk(sid, chunk.Text)
			if !ok {
				// Swept by the janitor mid-stream; keep draining the
				// generator's channel so it can close cleanly, but stop
				// broadcasting for a session nobody is tracking anymore.
				continue
			}
			s.fanout.BroadcastRoom(ctx, roomID, domain.EvAIMessageChunk, map[string]any{
				"sid":         sid.String(),
				"chunk":       chunk.Text,
				"fullContent": full,
			}, nil)
		}

		return nil, <-done
	})

	session, ok := s.streams.Get(sid)
	if !ok {
		return
	}

	if err != nil {
		s.logger.Warn("ai generation failed", "err", err, "sid", sid, "model", model)
		s.fanout.BroadcastRoom(ctx, roomID, domain.EvAIMessageError, map[string]any{"sid": sid.String()}, nil)
		s.streams.Delete(sid)
		return
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		SenderID:  uuid.Nil,
		Content:   session.Content,
		Kind:      domain.KindAI,
		AIModel:   model,
		CreatedAt: s.clock.Now().UnixMilli(),
	}
	if persistErr := s.messages.Create(ctx, msg); persistErr != nil {
		s.logger.Warn("ai message persist failed", "err", persistErr, "sid", sid)
		s.fanout.BroadcastRoom(ctx, roomID, domain.EvAIMessageError, map[string]any{"sid": sid.String()}, nil)
		s.streams.Delete(sid)
		return
	}

	s.fanout.BroadcastRoom(ctx, roomID, domain.EvAIMessageComplete, map[string]any{
		"sid":     sid.String(),
		"message": domain.ToWireMessage(msg, nil),
	}, nil)
	s.streams.Delete(sid)
}
