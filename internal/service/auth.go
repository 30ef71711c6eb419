// Package service implements the realtime session subsystem's core
// services: the business logic that sits between the wire transport
// and the external repositories, each expressed as a small struct
// constructed with its collaborators.
package service

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
)

// l1Size bounds the in-process user cache sitting ahead of the shared
// port.Cache: sized for the hot set of recently-active users, not the
// whole population.
const l1Size = 10000

// Authenticator performs session-open authentication: token + session
// validation, with a two-level user cache ahead of the user
// repository: an in-process
// LRU (l1) absorbing the bulk of repeat lookups within one instance,
// falling back to the shared, TTL'd port.Cache (l2) before finally
// hitting the repository.
type Authenticator struct {
	auth    port.AuthVerifier
	users   port.UserRepo
	cache   port.Cache
	l1      *lru.Cache[uuid.UUID, *domain.User]
	logger  *slog.Logger
	userTTL time.Duration
}

func NewAuthenticator(auth port.AuthVerifier, users port.UserRepo, cache port.Cache, logger *slog.Logger) *Authenticator {
	l1, err := lru.New[uuid.UUID, *domain.User](l1Size)
	if err != nil {
		// Only fails for a non-positive size, which l1Size never is.
		panic(err)
	}
	return &Authenticator{auth: auth, users: users, cache: cache, l1: l1, logger: logger, userTTL: 5 * time.Minute}
}

// Authenticate verifies the token, validates the session against the
// auth collaborator, then resolves the user, preferring the cache.
func (a *Authenticator) Authenticate(ctx context.Context, token string, sessionID uuid.UUID) (*domain.User, *domain.Session, error) {
	userID, err := a.auth.VerifyToken(ctx, token)
	if err != nil {
		return nil, nil, port.Wrap(port.KindOf(err), "token verification failed", err)
	}

	sess, err := a.auth.ValidateSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, port.Wrap(port.KindOf(err), "session validation failed", err)
	}

	user, err := a.resolveUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	return user, sess, nil
}

func (a *Authenticator) resolveUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if u, ok := a.l1.Get(userID); ok {
		return u, nil
	}

	key := domain.CacheKeys.User(userID)

	if raw, ok, err := a.cache.Get(ctx, key); err == nil && ok {
		if u, decodeErr := decodeUser(raw); decodeErr == nil {
			a.l1.Add(userID, u)
			return u, nil
		}
		// Corrupt payload: delete the entry and treat as a miss.
		_ = a.cache.Delete(ctx, key)
	}

	user, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return nil, port.Wrap(port.KindUserNotFound, "user lookup failed", err)
	}

	if err := a.cache.Set(ctx, key, encodeUser(user), a.userTTL); err != nil {
		a.logger.Debug("user cache write failed", "err", err, "user_id", userID)
	}
	a.l1.Add(userID, user)

	return user, nil
}

// TouchActivity re-validates the session asynchronously on activity; it
// writes no last-activity timestamp, since the auth collaborator owns
// the session record and exposes no update call. Failures are
// log-only.
func (a *Authenticator) TouchActivity(ctx context.Context, userID, sessionID uuid.UUID) {
	go func() {
		if _, err := a.auth.ValidateSession(ctx, userID, sessionID); err != nil {
			a.logger.Debug("session activity touch failed", "err", err, "user_id", userID)
		}
	}()
}

// encodeUser/decodeUser give the cache a canonical textual encoding:
// writes always encode to one format, reads either decode cleanly or
// are treated as a miss. A tiny format delimited by the 0x1f unit
// separator avoids pulling in a serialization
// library for a four-field record already fully described by wire.go's
// conventions elsewhere.
func encodeUser(u *domain.User) string {
	return u.ID.String() + "\x1f" + u.Name + "\x1f" + u.Email + "\x1f" + u.AvatarURL
}

func decodeUser(raw string) (*domain.User, error) {
	parts := splitUserFields(raw)
	if len(parts) != 4 {
		return nil, port.New(port.KindInternal, "malformed cached user")
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, port.Wrap(port.KindInternal, "malformed cached user id", err)
	}
	return &domain.User{ID: id, Name: parts[1], Email: parts[2], AvatarURL: parts[3]}, nil
}

func splitUserFields(raw string) []string {
	var fields []string
	start := 0
	for i, r := range raw {
		if r == '\x1f' {
			fields = append(fields, raw[start:i])
			start = i + 1
		}
	}
	fields = append(fields, raw[start:])
	return fields
}
