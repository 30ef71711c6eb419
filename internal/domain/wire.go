package domain

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
)

// Inbound event names (client -> server).
const (
	EvJoinRoom              = "joinRoom"
	EvChatMessage           = "chatMessage"
	EvFetchPreviousMessages = "fetchPreviousMessages"
	EvMarkMessagesAsRead    = "markMessagesAsRead"
	EvMessageReaction       = "messageReaction"
	EvTyping                = "typing"
	EvUpdateUserStatus      = "updateUserStatus"
	EvForceLogin            = "force_login"
)

// Outbound event names (server -> client).
const (
	EvMessage                = "message"
	EvMessageLoadStart       = "messageLoadStart"
	EvPreviousMessagesLoaded = "previousMessagesLoaded"
	EvJoinRoomSuccess        = "joinRoomSuccess"
	EvJoinRoomError          = "joinRoomError"
	EvParticipantsUpdate     = "participantsUpdate"
	EvUserLeft               = "userLeft"
	EvUserJoined             = "userJoined"
	EvMessagesRead           = "messagesRead"
	EvMessageReactionUpdate  = "messageReactionUpdate"
	EvUserTyping             = "userTyping"
	EvUserStatusUpdate       = "userStatusUpdate"
	EvDuplicateLogin         = "duplicate_login"
	EvSessionEnded           = "session_ended"
	EvAIMessageStart         = "aiMessageStart"
	EvAIMessageChunk         = "aiMessageChunk"
	EvAIMessageComplete      = "aiMessageComplete"
	EvAIMessageError         = "aiMessageError"
	EvError                  = "error"
)

// WirePeer is the sender shape embedded in WireMessage:
// {_id, name, email, profileImage?}.
type WirePeer struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// WireFile is the wire shape of a file attachment.
type WireFile struct {
	ID           string `json:"_id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
}

// WireReader mirrors {userId, readAt}.
type WireReader struct {
	UserID string `json:"userId"`
	ReadAt int64  `json:"readAt"`
}

// WireMessage is the on-wire message payload schema clients consume.
type WireMessage struct {
	ID        string              `json:"_id"`
	Room      string              `json:"room"`
	Sender    *WirePeer           `json:"sender"`
	Content   string              `json:"content"`
	Type      MessageKind         `json:"type"`
	File      *WireFile           `json:"file,omitempty"`
	AIType    string              `json:"aiType,omitempty"`
	Timestamp int64               `json:"timestamp"`
	Readers   []WireReader        `json:"readers"`
	Reactions map[string][]string `json:"reactions"`
}

// ToWireMessage projects a domain Message plus its resolved sender/file
// into the exact wire schema. sender is nil for system/AI messages.
func ToWireMessage(m *Message, sender *User) *WireMessage {
	wm := &WireMessage{
		ID:        m.ID.String(),
		Room:      m.RoomID.String(),
		Content:   m.Content,
		Type:      m.Kind,
		AIType:    m.AIModel,
		Timestamp: m.CreatedAt,
		Readers:   make([]WireReader, 0, len(m.Readers)),
		Reactions: make(map[string][]string, len(m.Reactions)),
	}

	if sender != nil {
		wm.Sender = &WirePeer{
			ID:           sender.ID.String(),
			Name:         sender.Name,
			Email:        sender.Email,
			ProfileImage: sender.AvatarURL,
		}
	}

	if m.File != nil {
		wm.File = &WireFile{
			ID:           m.File.ID,
			Filename:     m.File.Filename,
			OriginalName: m.File.OriginalName,
			MimeType:     m.File.MimeType,
			Size:         m.File.Size,
		}
	}

	for _, r := range m.Readers {
		wm.Readers = append(wm.Readers, WireReader{UserID: r.UserID.String(), ReadAt: r.ReadAt})
	}

	for emoji, users := range m.Reactions {
		ids := make([]string, 0, len(users))
		for uid := range users {
			ids = append(ids, uid.String())
		}
		wm.Reactions[emoji] = ids
	}

	return wm
}

// CacheKeys centralises the cache key conventions so every component
// builds keys the same way.
var CacheKeys = struct {
	History func(roomID uuid.UUID, before *int64, limit int) string
	Access  func(roomID, userID uuid.UUID) string
	User    func(userID uuid.UUID) string
	RateBkt func(userID uuid.UUID, windowIdx int64) string
}{
	History: func(roomID uuid.UUID, before *int64, limit int) string {
		token := "latest"
		if before != nil {
			token = strconv.FormatInt(*before, 10)
		}
		return "messages:" + roomID.String() + ":" + token + ":" + strconv.Itoa(limit)
	},
	Access: func(roomID, userID uuid.UUID) string {
		return "room_access:" + roomID.String() + ":" + userID.String()
	},
	User: func(userID uuid.UUID) string {
		return "user:" + userID.String()
	},
	RateBkt: func(userID uuid.UUID, windowIdx int64) string {
		return userID.String() + ":" + strconv.FormatInt(windowIdx, 10)
	},
}

// RoomTopic builds the cross-instance bus topic for a room.
func RoomTopic(roomID uuid.UUID) string { return "room:" + roomID.String() }

const roomTopicPrefix = "room:"

// RoomIDFromTopic inverts RoomTopic, used by the relay to recover the
// room id from an inbound bus topic.
func RoomIDFromTopic(topic string) (uuid.UUID, error) {
	if len(topic) <= len(roomTopicPrefix) || topic[:len(roomTopicPrefix)] != roomTopicPrefix {
		return uuid.Nil, errors.New("not a room topic")
	}
	return uuid.Parse(topic[len(roomTopicPrefix):])
}
