package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
)

// AuthVerifier validates a bearer token + session id pair on session
// open. It is owned by the external auth subsystem; the core only
// calls it.
type AuthVerifier interface {
	// VerifyToken checks signature/expiry and extracts the user id the
	// token was issued for.
	VerifyToken(ctx context.Context, token string) (userID uuid.UUID, err error)
	// ValidateSession confirms sessionID is a live session for userID.
	ValidateSession(ctx context.Context, userID, sessionID uuid.UUID) (*domain.Session, error)
}

// UserRepo resolves user records. The core never writes through it.
type UserRepo interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// RoomRepo owns room CRUD; the core only adds/removes participants and
// reads access/participant state.
type RoomRepo interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	IsParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	AddParticipant(ctx context.Context, roomID, userID uuid.UUID) (participants []uuid.UUID, err error)
	RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) (participants []uuid.UUID, err error)
}

// FileRepo resolves previously-uploaded file references. Upload
// itself belongs to the HTTP routing layer outside the core.
type FileRepo interface {
	GetFile(ctx context.Context, id string) (*domain.FileRef, error)
}

// MessageQuery is the filter the history loader pages with.
type MessageQuery struct {
	RoomID             uuid.UUID
	BeforeTime         *int64 // exclusive upper bound on CreatedAt, nil = latest
	Limit              int
	ExcludeSoftDeleted bool
}

// MessageRepo is the durable message store.
type MessageRepo interface {
	Create(ctx context.Context, m *domain.Message) error
	Find(ctx context.Context, q MessageQuery) ([]*domain.Message, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	AddReader(ctx context.Context, id uuid.UUID, reader domain.Reader) error
	SetReaction(ctx context.Context, id uuid.UUID, emoji string, userID uuid.UUID, add bool) (*domain.Message, error)
}

// Cache is best-effort: failure never fails the surrounding request.
// Implementations must never block longer than the caller's context
// allows.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the integer at key (creating it with
	// the given TTL if absent) and returns the post-increment value.
	// Used by the rate limiter's primary counter.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// PubSub is the cross-instance bus: one topic per room
// ("room:<roomId>"), envelope {kind, payload}. Publish failure is
// logged, never surfaced to the sender.
type PubSub interface {
	Publish(ctx context.Context, topic string, kind string, payload any) error
	// Subscribe delivers envelopes published to exactly the named topic
	// (no wildcard matching); subscribers drop their own origin's
	// events before invoking handler.
	Subscribe(ctx context.Context, pattern string, handler func(ctx context.Context, topic, originInstance, kind string, payload []byte)) error
}

// AIChunk is one increment of a streamed AI response.
type AIChunk struct {
	Text string
}

// AIGenerator is the external AI collaborator.
type AIGenerator interface {
	// Stream returns a channel of chunks, a channel that carries the
	// final accumulated error (nil on success) exactly once, and is
	// always closed by the generator when done.
	Stream(ctx context.Context, query, model string) (chunks <-chan AIChunk, done <-chan error)
}

// Clock is injected so tests can control time.
type Clock interface {
	Now() time.Time
}

// Metrics is a minimal counters/gauges facade; export mechanics live
// outside the core.
type Metrics interface {
	Inc(name string, tags ...string)
	Gauge(name string, value float64, tags ...string)
	Observe(name string, value float64, tags ...string)
}
