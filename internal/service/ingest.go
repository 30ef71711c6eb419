package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
	"github.com/chatmesh/gateway/internal/registry"
)

// aiMentionPattern matches "@<model>" tokens.
var aiMentionPattern = regexp.MustCompile(`@(\w+)`)

// IngestConfig names the AI models this instance recognises as
// mentionable (e.g. wayneAI, consultingAI).
type IngestConfig struct {
	AIModels map[string]bool
	// HistoryLimit is the default history page size, needed to rebuild
	// the room's latest-page cache key for invalidation after a
	// successful persist.
	HistoryLimit int
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		AIModels:     map[string]bool{"wayneAI": true, "consultingAI": true},
		HistoryLimit: 25,
	}
}

// Ingest handles message sends: validation, rate limiting, AI mention
// detection, persistence and fan-out for a single chat message. The
// config is an atomic snapshot so hot reload can change the
// mentionable model set on a running instance.
type Ingest struct {
	cfg      atomic.Pointer[IngestConfig]
	rooms    port.RoomRepo
	users    port.UserRepo
	files    port.FileRepo
	messages port.MessageRepo
	clock    port.Clock
	limiter  *registry.RateLimiter
	fanout   *Fanout
	ai       *AIStream
	cache    port.Cache
	logger   *slog.Logger
}

func NewIngest(cfg IngestConfig, rooms port.RoomRepo, users port.UserRepo, files port.FileRepo, messages port.MessageRepo, clock port.Clock, limiter *registry.RateLimiter, fanout *Fanout, ai *AIStream, cache port.Cache, logger *slog.Logger) *Ingest {
	i := &Ingest{
		rooms:    rooms,
		users:    users,
		files:    files,
		messages: messages,
		clock:    clock,
		limiter:  limiter,
		fanout:   fanout,
		ai:       ai,
		cache:    cache,
		logger:   logger,
	}
	i.cfg.Store(&cfg)
	return i
}

// SetConfig swaps the ingest tunables; config hot reload calls it.
func (i *Ingest) SetConfig(cfg IngestConfig) { i.cfg.Store(&cfg) }

// SendInput bundles a chatMessage event's payload.
type SendInput struct {
	RoomID  uuid.UUID
	Content string
	Kind    domain.MessageKind
	FileID  string
}

// Send validates, rate-limits, persists and fans out one message,
// returning the persisted message's id on success.
func (i *Ingest) Send(ctx context.Context, senderID uuid.UUID, in SendInput) (uuid.UUID, error) {
	isParticipant, err := i.rooms.IsParticipant(ctx, in.RoomID, senderID)
	if err != nil {
		return uuid.Nil, port.Wrap(port.KindNotFound, "room lookup failed", err)
	}
	if !isParticipant {
		return uuid.Nil, port.New(port.KindAccessDenied, "not a room participant")
	}
	if strings.TrimSpace(in.Content) == "" && in.FileID == "" {
		return uuid.Nil, port.New(port.KindInvalidInput, "message must have content or a file")
	}

	if err := i.limiter.Check(ctx, senderID); err != nil {
		return uuid.Nil, err
	}

	kind := in.Kind
	if kind == "" {
		kind = domain.KindText
	}

	var fileRef *domain.FileRef
	if in.FileID != "" {
		fileRef, err = i.files.GetFile(ctx, in.FileID)
		if err != nil {
			return uuid.Nil, port.Wrap(port.KindInvalidInput, "file reference not found", err)
		}
		kind = domain.KindFile
	}

	models := i.detectMentions(in.Content)

	msg := &domain.Message{
		ID:        uuid.New(),
		RoomID:    in.RoomID,
		SenderID:  senderID,
		Content:   in.Content,
		Kind:      kind,
		File:      fileRef,
		CreatedAt: i.clock.Now().UnixMilli(),
	}
	if err := i.messages.Create(ctx, msg); err != nil {
		return uuid.Nil, port.Wrap(port.KindPersistFailed, "message persist failed", err)
	}

	i.invalidateHistoryCache(ctx, in.RoomID)

	sender, err := i.users.GetUser(ctx, senderID)
	if err != nil {
		i.logger.Warn("sender lookup failed for fan-out", "err", err, "user_id", senderID)
	}
	wire := domain.ToWireMessage(msg, sender)
	i.fanout.BroadcastRoom(ctx, in.RoomID, domain.EvMessage, wire, nil)

	for _, model := range models {
		stripped := strings.TrimSpace(aiMentionPattern.ReplaceAllString(in.Content, ""))
		i.ai.Start(context.Background(), in.RoomID, senderID, model, stripped)
	}

	return msg.ID, nil
}

func (i *Ingest) detectMentions(content string) []string {
	matches := aiMentionPattern.FindAllStringSubmatch(content, -1)
	known := i.cfg.Load().AIModels
	seen := make(map[string]bool, len(matches))
	var models []string
	for _, m := range matches {
		model := m[1]
		if known[model] && !seen[model] {
			seen[model] = true
			models = append(models, model)
		}
	}
	return models
}

// invalidateHistoryCache deletes the room's latest-page cache entry
// after a successful persist (best-effort; failure logs only) — the
// key every fresh send would otherwise stale-serve.
func (i *Ingest) invalidateHistoryCache(ctx context.Context, roomID uuid.UUID) {
	key := domain.CacheKeys.History(roomID, nil, i.cfg.Load().HistoryLimit)
	if err := i.cache.Delete(ctx, key); err != nil {
		i.logger.Debug("history cache invalidation failed", "err", err, "room_id", roomID)
	}
}
