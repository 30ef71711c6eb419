package fake

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
)

// UserRepo is an in-memory port.UserRepo.
type UserRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

func NewUserRepo() *UserRepo { return &UserRepo{users: make(map[uuid.UUID]*domain.User)} }

func (r *UserRepo) Put(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *UserRepo) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, port.New(port.KindUserNotFound, "user not found")
	}
	return u, nil
}

// RoomRepo is an in-memory port.RoomRepo.
type RoomRepo struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*domain.Room
}

func NewRoomRepo() *RoomRepo { return &RoomRepo{rooms: make(map[uuid.UUID]*domain.Room)} }

func (r *RoomRepo) Put(room *domain.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
}

func (r *RoomRepo) GetRoom(_ context.Context, id uuid.UUID) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, port.New(port.KindNotFound, "room not found")
	}
	cp := *room
	cp.Participants = append([]uuid.UUID(nil), room.Participants...)
	return &cp, nil
}

func (r *RoomRepo) IsParticipant(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return false, port.New(port.KindNotFound, "room not found")
	}
	for _, p := range room.Participants {
		if p == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *RoomRepo) AddParticipant(_ context.Context, roomID, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, port.New(port.KindNotFound, "room not found")
	}
	for _, p := range room.Participants {
		if p == userID {
			return append([]uuid.UUID(nil), room.Participants...), nil
		}
	}
	room.Participants = append(room.Participants, userID)
	return append([]uuid.UUID(nil), room.Participants...), nil
}

func (r *RoomRepo) RemoveParticipant(_ context.Context, roomID, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, port.New(port.KindNotFound, "room not found")
	}
	out := make([]uuid.UUID, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	room.Participants = out
	return append([]uuid.UUID(nil), out...), nil
}

// FileRepo is an in-memory port.FileRepo.
type FileRepo struct {
	mu    sync.RWMutex
	files map[string]*domain.FileRef
}

func NewFileRepo() *FileRepo { return &FileRepo{files: make(map[string]*domain.FileRef)} }

func (r *FileRepo) Put(f *domain.FileRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.ID] = f
}

func (r *FileRepo) GetFile(_ context.Context, id string) (*domain.FileRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	if !ok {
		return nil, port.New(port.KindNotFound, "file not found")
	}
	return f, nil
}

// MessageRepo is an in-memory port.MessageRepo, concurrency-safe and
// ordered by CreatedAt the way the durable store would be queried.
type MessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*domain.Message
	byRoom   map[uuid.UUID][]uuid.UUID // insertion order per room
}

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{
		messages: make(map[uuid.UUID]*domain.Message),
		byRoom:   make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *MessageRepo) Create(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Reactions == nil {
		m.Reactions = make(map[string]map[uuid.UUID]bool)
	}
	r.messages[m.ID] = m
	r.byRoom[m.RoomID] = append(r.byRoom[m.RoomID], m.ID)
	return nil
}

func (r *MessageRepo) Get(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, port.New(port.KindNotFound, "message not found")
	}
	return cloneMessage(m), nil
}

// Find implements the descending, limit+1 query the history loader relies on.
func (r *MessageRepo) Find(_ context.Context, q port.MessageQuery) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byRoom[q.RoomID]
	matches := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		m := r.messages[id]
		if q.ExcludeSoftDeleted && m.Deleted {
			continue
		}
		if q.BeforeTime != nil && m.CreatedAt >= *q.BeforeTime {
			continue
		}
		matches = append(matches, m)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt > matches[j].CreatedAt })

	limit := q.Limit
	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}

	out := make([]*domain.Message, limit)
	for i, m := range matches[:limit] {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (r *MessageRepo) AddReader(_ context.Context, id uuid.UUID, reader domain.Reader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return port.New(port.KindNotFound, "message not found")
	}
	if m.HasReader(reader.UserID) {
		return nil
	}
	m.Readers = append(m.Readers, reader)
	return nil
}

func (r *MessageRepo) SetReaction(_ context.Context, id uuid.UUID, emoji string, userID uuid.UUID, add bool) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, port.New(port.KindNotFound, "message not found")
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string]map[uuid.UUID]bool)
	}
	if m.Reactions[emoji] == nil {
		m.Reactions[emoji] = make(map[uuid.UUID]bool)
	}
	if add {
		m.Reactions[emoji][userID] = true
	} else {
		delete(m.Reactions[emoji], userID)
	}
	return cloneMessage(m), nil
}

// cloneMessage snapshots a stored message so callers never observe
// later reader/reaction mutations mid-read, the isolation a real
// document store gives for free.
func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	cp.Readers = append([]domain.Reader(nil), m.Readers...)
	cp.Reactions = make(map[string]map[uuid.UUID]bool, len(m.Reactions))
	for emoji, users := range m.Reactions {
		set := make(map[uuid.UUID]bool, len(users))
		for id := range users {
			set[id] = true
		}
		cp.Reactions[emoji] = set
	}
	return &cp
}
