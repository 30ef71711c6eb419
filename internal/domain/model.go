// Package domain holds the data model shared by every component of
// the realtime session and fan-out subsystem: users, rooms, messages
// and the wire-level session concept. The core mutates only room
// participants and a message's readers, reactions and deleted flag,
// treating everything else as read-only, owned by the external
// repositories.
package domain

import "github.com/google/uuid"

// User is read-only to the core; it is resolved from UserRepo or the
// short-TTL user cache.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	AvatarURL string
}

// Room's participants set is the only field the core mutates, via
// RoomRepo.AddParticipant / RemoveParticipant.
type Room struct {
	ID           uuid.UUID
	Name         string
	PasswordHash string
	CreatorID    uuid.UUID
	Participants []uuid.UUID
	CreatedAt    int64
}

// MessageKind enumerates the kinds a Message can carry.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
	KindAI     MessageKind = "ai"
)

// FileRef describes an uploaded file attachment.
type FileRef struct {
	ID           string
	Filename     string
	OriginalName string
	MimeType     string
	Size         int64
}

// Reader records that a user has read a message, and when.
type Reader struct {
	UserID uuid.UUID
	ReadAt int64
}

// Message is append-only except for Readers, Reactions and Deleted.
type Message struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	SenderID  uuid.UUID // uuid.Nil for system/AI messages
	Content   string
	Kind      MessageKind
	File      *FileRef
	AIModel   string
	CreatedAt int64

	Readers   []Reader
	Reactions map[string]map[uuid.UUID]bool // emoji -> set of userIDs
	Deleted   bool
}

// HasReader reports whether userID has already read this message.
func (m *Message) HasReader(userID uuid.UUID) bool {
	for _, r := range m.Readers {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Session is created and owned by the auth collaborator; the core only
// validates it and never writes its last-activity.
type Session struct {
	ID     uuid.UUID
	UserID uuid.UUID
}
