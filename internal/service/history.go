package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
	"github.com/chatmesh/gateway/internal/registry"
)

// HistoryPage is Fetch's result: one page, ascending by timestamp.
type HistoryPage struct {
	Messages        []*domain.WireMessage `json:"messages"`
	HasMore         bool                  `json:"hasMore"`
	OldestTimestamp int64                 `json:"oldestTimestamp"`
}

// HistoryConfig bundles the history loader's tunables.
type HistoryConfig struct {
	DefaultLimit int
	FetchTimeout time.Duration
	AccessTTL    time.Duration
	ResultTTL    time.Duration
	RetryBase    time.Duration
	RetryFactor  float64
	RetryMax     int
	RetryCapWait time.Duration
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		DefaultLimit: 25,
		FetchTimeout: 8 * time.Second,
		AccessTTL:    5 * time.Minute,
		ResultTTL:    30 * time.Second,
		RetryBase:    1500 * time.Millisecond,
		RetryFactor:  1.5,
		RetryMax:     3,
		RetryCapWait: 5 * time.Second,
	}
}

// History serves paginated room history: cached, access-checked,
// in-flight-deduplicated, with retrying circuit-broken reads from the
// message repository. The config is an atomic snapshot so hot reload
// can retune limits and TTLs on a running instance.
type History struct {
	cfg      atomic.Pointer[HistoryConfig]
	rooms    port.RoomRepo
	users    port.UserRepo
	messages port.MessageRepo
	cache    port.Cache
	inflight *registry.InFlightRegistry
	breaker  *gobreaker.CircuitBreaker
	receipts *Receipts
	logger   *slog.Logger
}

func NewHistory(cfg HistoryConfig, rooms port.RoomRepo, users port.UserRepo, messages port.MessageRepo, cache port.Cache, inflight *registry.InFlightRegistry, receipts *Receipts, logger *slog.Logger) *History {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "message-repo-find",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	h := &History{
		rooms:    rooms,
		users:    users,
		messages: messages,
		cache:    cache,
		inflight: inflight,
		breaker:  breaker,
		receipts: receipts,
		logger:   logger,
	}
	h.cfg.Store(&cfg)
	return h
}

// SetConfig swaps the loader tunables; config hot reload calls it.
func (h *History) SetConfig(cfg HistoryConfig) { h.cfg.Store(&cfg) }

// Fetch returns one page of room history ending just before `before`
// (or the latest page when nil).
func (h *History) Fetch(ctx context.Context, requester, roomID uuid.UUID, before *int64, limit int) (*HistoryPage, error) {
	cfg := h.cfg.Load()
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}

	if err := h.checkAccess(ctx, requester, roomID); err != nil {
		return nil, err
	}

	cacheKey := domain.CacheKeys.History(roomID, before, limit)
	if raw, ok, err := h.cache.Get(ctx, cacheKey); err == nil && ok {
		var page HistoryPage
		if json.Unmarshal([]byte(raw), &page) == nil {
			h.markReadAsync(requester, roomID, page.Messages)
			return &page, nil
		}
		_ = h.cache.Delete(ctx, cacheKey)
	}

	key := registry.InFlightKey{RoomID: roomID, UserID: requester}
	if before != nil {
		key.Before = *before
	}
	if !h.inflight.TryAcquire(key) {
		// Duplicate request while a load for the same key runs:
		// dropped, not queued. A nil page with a nil error tells the
		// transport to emit nothing.
		return nil, nil
	}
	defer h.inflight.Release(key)

	page, err := h.fetchWithRetry(ctx, roomID, before, limit)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(page); err == nil {
		if err := h.cache.Set(ctx, cacheKey, string(raw), cfg.ResultTTL); err != nil {
			h.logger.Debug("history cache write failed", "err", err, "room_id", roomID)
		}
	}

	h.markReadAsync(requester, roomID, page.Messages)
	return page, nil
}

func (h *History) checkAccess(ctx context.Context, userID, roomID uuid.UUID) error {
	key := domain.CacheKeys.Access(roomID, userID)
	if raw, ok, _ := h.cache.Get(ctx, key); ok && raw == "1" {
		return nil
	}

	allowed, err := h.rooms.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return port.Wrap(port.KindNotFound, "room lookup failed", err)
	}
	if !allowed {
		return port.New(port.KindAccessDenied, "not a room participant")
	}

	if err := h.cache.Set(ctx, key, "1", h.cfg.Load().AccessTTL); err != nil {
		h.logger.Debug("access cache write failed", "err", err, "room_id", roomID)
	}
	return nil
}

func (h *History) fetchWithRetry(ctx context.Context, roomID uuid.UUID, before *int64, limit int) (*HistoryPage, error) {
	cfg := h.cfg.Load()
	wait := cfg.RetryBase
	var lastErr error

	for attempt := 0; attempt < cfg.RetryMax; attempt++ {
		page, err := h.fetchOnce(ctx, roomID, before, limit)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if attempt == cfg.RetryMax-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, port.Wrap(port.KindTimeout, "history fetch canceled", ctx.Err())
		case <-time.After(wait):
		}
		wait = time.Duration(float64(wait) * cfg.RetryFactor)
		if wait > cfg.RetryCapWait {
			wait = cfg.RetryCapWait
		}
	}

	return nil, port.Wrap(port.KindLoadError, "history load exhausted retries", lastErr)
}

func (h *History) fetchOnce(ctx context.Context, roomID uuid.UUID, before *int64, limit int) (*HistoryPage, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, h.cfg.Load().FetchTimeout)
	defer cancel()

	result, err := h.breaker.Execute(func() (any, error) {
		return h.messages.Find(fetchCtx, port.MessageQuery{
			RoomID:             roomID,
			BeforeTime:         before,
			Limit:              limit + 1,
			ExcludeSoftDeleted: true,
		})
	})
	if err != nil {
		return nil, port.Wrap(port.KindLoadError, "message repository find failed", err)
	}

	msgs := result.([]*domain.Message)
	hasMore := len(msgs) == limit+1
	if hasMore {
		msgs = msgs[:limit]
	}

	// msgs arrive newest-first (descending); reverse to ascending.
	wire := make([]*domain.WireMessage, len(msgs))
	var oldest int64
	for i, m := range msgs {
		sender := h.resolveSender(ctx, m)
		wire[len(msgs)-1-i] = domain.ToWireMessage(m, sender)
	}
	if len(wire) > 0 {
		oldest = wire[0].Timestamp
	}

	return &HistoryPage{Messages: wire, HasMore: hasMore, OldestTimestamp: oldest}, nil
}

func (h *History) resolveSender(ctx context.Context, m *domain.Message) *domain.User {
	if m.SenderID == uuid.Nil {
		return nil
	}
	u, err := h.users.GetUser(ctx, m.SenderID)
	if err != nil {
		return nil
	}
	return u
}

// markReadAsync bulk-marks the fetched page read by the requester in
// the background; failures are log-only.
func (h *History) markReadAsync(requester, roomID uuid.UUID, msgs []*domain.WireMessage) {
	if h.receipts == nil || len(msgs) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		id, err := uuid.Parse(m.ID)
		if err == nil {
			ids = append(ids, id)
		}
	}
	go func() {
		if err := h.receipts.MarkRead(context.Background(), requester, roomID, ids); err != nil {
			h.logger.Debug("bulk mark-read after history fetch failed", "err", err, "room_id", roomID)
		}
	}()
}
