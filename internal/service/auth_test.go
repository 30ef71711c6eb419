package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
)

func TestAuthenticateResolvesUserAndSession(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	userID := uuid.New()
	sessionID := uuid.New()
	w.users.Put(&domain.User{ID: userID, Name: "alice", Email: "alice@example.com"})
	w.verifier.IssueToken("tok-1", userID)
	w.verifier.OpenSession(sessionID, userID)

	user, sess, err := w.auth.Authenticate(ctx, "tok-1", sessionID)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, sessionID, sess.ID)
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	w := newWorld()

	_, _, err := w.auth.Authenticate(context.Background(), "nope", uuid.New())
	require.Error(t, err)
	assert.Equal(t, port.KindInvalidToken, port.KindOf(err))
}

func TestAuthenticateRejectsForeignSession(t *testing.T) {
	w := newWorld()
	userID := uuid.New()
	otherID := uuid.New()
	sessionID := uuid.New()
	w.users.Put(&domain.User{ID: userID, Name: "alice"})
	w.verifier.IssueToken("tok-1", userID)
	w.verifier.OpenSession(sessionID, otherID) // session belongs to someone else

	_, _, err := w.auth.Authenticate(context.Background(), "tok-1", sessionID)
	require.Error(t, err)
	assert.Equal(t, port.KindInvalidSession, port.KindOf(err))
}

func TestAuthenticateRejectsUnknownUser(t *testing.T) {
	w := newWorld()
	userID := uuid.New()
	sessionID := uuid.New()
	w.verifier.IssueToken("tok-1", userID)
	w.verifier.OpenSession(sessionID, userID)
	// No user record in the repository.

	_, _, err := w.auth.Authenticate(context.Background(), "tok-1", sessionID)
	require.Error(t, err)
	assert.Equal(t, port.KindUserNotFound, port.KindOf(err))
}

func TestResolveUserRecoversFromCorruptCacheEntry(t *testing.T) {
	w := newWorld()
	ctx := context.Background()
	userID := uuid.New()
	w.users.Put(&domain.User{ID: userID, Name: "alice", Email: "alice@example.com"})

	key := domain.CacheKeys.User(userID)
	require.NoError(t, w.cache.Set(ctx, key, "not-a-user-record", w.auth.userTTL))

	u, err := w.auth.resolveUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)

	// The corrupt entry was dropped and replaced by a canonical one.
	raw, ok, err := w.cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	decoded, err := decodeUser(raw)
	require.NoError(t, err)
	assert.Equal(t, userID, decoded.ID)
}

func TestResolveUserSurvivesCacheOutage(t *testing.T) {
	w := newWorld()
	ctx := context.Background()
	userID := uuid.New()
	w.users.Put(&domain.User{ID: userID, Name: "alice"})

	auth := NewAuthenticator(w.verifier, w.users, failingCache{}, testLogger())
	u, err := auth.resolveUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)
}

func TestUserEncodingRoundTrips(t *testing.T) {
	u := &domain.User{ID: uuid.New(), Name: "ann e", Email: "a@b.c", AvatarURL: "https://cdn/x.png"}
	decoded, err := decodeUser(encodeUser(u))
	require.NoError(t, err)
	assert.Equal(t, u, decoded)

	_, err = decodeUser("garbage")
	assert.Error(t, err)
}
