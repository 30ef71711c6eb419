package fake

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
)

// AuthVerifier is an in-memory port.AuthVerifier: tokens and sessions
// are registered directly rather than issued, standing in for the
// external auth subsystem.
type AuthVerifier struct {
	mu       sync.RWMutex
	tokens   map[string]uuid.UUID          // token -> userID
	sessions map[uuid.UUID]*domain.Session // sessionID -> session
}

func NewAuthVerifier() *AuthVerifier {
	return &AuthVerifier{
		tokens:   make(map[string]uuid.UUID),
		sessions: make(map[uuid.UUID]*domain.Session),
	}
}

func (a *AuthVerifier) IssueToken(token string, userID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = userID
}

func (a *AuthVerifier) OpenSession(sessionID, userID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[sessionID] = &domain.Session{ID: sessionID, UserID: userID}
}

func (a *AuthVerifier) CloseSession(sessionID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

func (a *AuthVerifier) VerifyToken(_ context.Context, token string) (uuid.UUID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	userID, ok := a.tokens[token]
	if !ok {
		return uuid.Nil, port.New(port.KindInvalidToken, "unknown token")
	}
	return userID, nil
}

func (a *AuthVerifier) ValidateSession(_ context.Context, userID, sessionID uuid.UUID) (*domain.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sess, ok := a.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, port.New(port.KindInvalidSession, "session not active")
	}
	return sess, nil
}
