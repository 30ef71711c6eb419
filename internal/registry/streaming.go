package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StreamingSession is the in-memory state tracked per AI mention:
// expires after 30 minutes of inactivity.
type StreamingSession struct {
	RoomID     uuid.UUID
	UserID     uuid.UUID // initiating user
	Model      string
	Content    string
	LastActive time.Time
}

// StreamRegistry is the bounded registry of live AI streams (max 500
// sessions).
type StreamRegistry struct {
	mu      sync.Mutex
	bound   *Bounded[uuid.UUID, *StreamingSession]
	idleFor time.Duration
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		bound:   NewBounded[uuid.UUID, *StreamingSession](500),
		idleFor: 30 * time.Minute,
	}
}

func (s *StreamRegistry) Create(sid uuid.UUID, roomID, userID uuid.UUID, model string) {
	s.bound.Put(sid, &StreamingSession{
		RoomID:     roomID,
		UserID:     userID,
		Model:      model,
		LastActive: time.Now(),
	})
}

func (s *StreamRegistry) Get(sid uuid.UUID) (*StreamingSession, bool) {
	return s.bound.Get(sid)
}

// AppendChunk appends text to the accumulated content and bumps
// activity, returning the full accumulated content so far.
func (s *StreamRegistry) AppendChunk(sid uuid.UUID, text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.bound.Get(sid)
	if !ok {
		return "", false
	}
	ss.Content += text
	ss.LastActive = time.Now()
	return ss.Content, true
}

func (s *StreamRegistry) Delete(sid uuid.UUID) {
	s.bound.Delete(sid)
}

// SweepIdle silently drops sessions idle for longer than the
// configured timeout; no client event is emitted for them.
func (s *StreamRegistry) SweepIdle() int {
	cutoff := time.Now().Add(-s.idleFor)
	return s.bound.RemoveIf(func(_ uuid.UUID, ss *StreamingSession) bool {
		return ss.LastActive.Before(cutoff)
	})
}

func (s *StreamRegistry) Stats() Stats { return s.bound.Stats() }
