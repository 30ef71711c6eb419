package ws

import (
	"encoding/json"

	"github.com/chatmesh/gateway/internal/port"
)

// inboundFrame is the envelope every client->server message arrives
// in: a named event plus its raw payload, decoded per-event below.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// decodeJoinRoom accepts either a bare room-id string or {"roomId":
// "..."}; socket.io-derived clients send the former.
func decodeJoinRoom(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
		return asString, nil
	}
	var p joinRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}
	return p.RoomID, nil
}

type chatMessagePayload struct {
	Room     string `json:"room"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	FileData *struct {
		ID string `json:"_id"`
	} `json:"fileData"`
}

type fetchPreviousMessagesPayload struct {
	RoomID string `json:"roomId"`
	Before *int64 `json:"before"`
}

type markMessagesAsReadPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

type messageReactionPayload struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
	Type      string `json:"type"`
}

type typingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type updateUserStatusPayload struct {
	Status string `json:"status"`
}

type forceLoginPayload struct {
	Token string `json:"token"`
}

// wireError is the error{code, message} shape clients consume.
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorPayload(err error) wireError {
	if err == nil {
		return wireError{Code: string(port.KindInternal), Message: "unknown error"}
	}
	return wireError{Code: string(port.KindOf(err)), Message: err.Error()}
}
