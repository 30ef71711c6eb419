package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
	"github.com/chatmesh/gateway/internal/registry"
	"github.com/chatmesh/gateway/internal/service"
)

// Services bundles every core component the transport dispatches
// inbound events to, constructed once at startup and shared across
// all connections. No process-wide singletons: the struct is
// constructed by fx and injected, not a package-level var.
type Services struct {
	Auth      *service.Authenticator
	Conns     *registry.ConnRegistry
	Rooms     *service.Rooms
	Ingest    *service.Ingest
	History   *service.History
	Receipts  *service.Receipts
	Presence  *service.Presence
	AuthCheck port.AuthVerifier
	Logger    *slog.Logger
}

// NewServices bundles the constructed core components for fx to
// inject into Handler as one assembled facade rather than a dozen
// individual collaborators.
func NewServices(
	auth *service.Authenticator,
	conns *registry.ConnRegistry,
	rooms *service.Rooms,
	ingest *service.Ingest,
	history *service.History,
	receipts *service.Receipts,
	presence *service.Presence,
	authCheck port.AuthVerifier,
	logger *slog.Logger,
) *Services {
	return &Services{
		Auth:      auth,
		Conns:     conns,
		Rooms:     rooms,
		Ingest:    ingest,
		History:   history,
		Receipts:  receipts,
		Presence:  presence,
		AuthCheck: authCheck,
		Logger:    logger,
	}
}

// Handler implements http.Handler over a chi route; each request is
// one session-open handshake followed by the pump loop for that
// session's lifetime.
type Handler struct {
	svc      *Services
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(svc *Services) *Handler {
	return &Handler{
		svc:    svc,
		logger: svc.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// handshake carries the credentials the client presents when opening
// a session: bearer token plus session id.
type handshake struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var hs handshake
	hs.Token = r.URL.Query().Get("token")
	hs.SessionID = r.URL.Query().Get("sessionId")

	sessionID, err := uuid.Parse(hs.SessionID)
	if err != nil {
		http.Error(w, "invalid sessionId", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user, sess, err := h.svc.Auth.Authenticate(ctx, hs.Token, sessionID)
	if err != nil {
		h.logger.Info("session open rejected", "err", err)
		http.Error(w, errorPayload(err).Message, http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}
	defer wsConn.Close()

	meta := registry.ConnMeta{UserAgent: r.UserAgent(), IP: r.RemoteAddr}
	conn := newConn(user.ID, meta, wsConn, h.logger)
	h.svc.Conns.Register(ctx, conn)
	defer func() {
		if h.svc.Conns.Unregister(user.ID, conn.ID()) {
			// Graceful disconnect of the active session: announce the
			// leave.
			h.svc.Rooms.Leave(context.Background(), user.ID)
		} else {
			// This handle was pre-empted. Finish the pre-emption right
			// away instead of waiting out the timer, and emit no leave
			// message.
			h.svc.Conns.CancelPreemption(user.ID, conn)
		}
		conn.Close()
	}()

	h.logger.Info("session opened", "user_id", user.ID, "session_id", sess.ID, "conn_id", conn.ID())

	h.pump(wsConn, conn, user.ID, sessionID)
}

func (h *Handler) pump(wsConn *websocket.Conn, conn *Conn, userID, sessionID uuid.UUID) {
	for {
		_, body, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		if !conn.Connected() {
			// Pre-empted: this session must not process anything more.
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(body, &frame); err != nil {
			conn.Send(domain.EvError, errorPayload(port.New(port.KindInvalidInput, "malformed frame")), time.Second)
			continue
		}

		h.svc.Auth.TouchActivity(context.Background(), userID, sessionID)
		h.dispatch(conn, userID, frame)
	}
}

func (h *Handler) dispatch(conn *Conn, userID uuid.UUID, frame inboundFrame) {
	ctx := context.Background()

	switch frame.Event {
	case domain.EvJoinRoom:
		h.handleJoinRoom(ctx, conn, userID, frame.Data)
	case domain.EvChatMessage:
		h.handleChatMessage(ctx, conn, userID, frame.Data)
	case domain.EvFetchPreviousMessages:
		h.handleFetchPrevious(ctx, conn, userID, frame.Data)
	case domain.EvMarkMessagesAsRead:
		h.handleMarkRead(ctx, conn, userID, frame.Data)
	case domain.EvMessageReaction:
		h.handleReaction(ctx, conn, userID, frame.Data)
	case domain.EvTyping:
		h.handleTyping(ctx, conn, userID, frame.Data)
	case domain.EvUpdateUserStatus:
		h.handleStatus(ctx, conn, userID, frame.Data)
	case domain.EvForceLogin:
		h.handleForceLogin(ctx, conn, userID, frame.Data)
	default:
		h.logger.Debug("unknown inbound event", "event", frame.Event, "user_id", userID)
	}
}

func (h *Handler) handleJoinRoom(ctx context.Context, conn *Conn, userID uuid.UUID, data json.RawMessage) {
	roomIDStr, err := decodeJoinRoom(data)
	if err != nil {
		conn.Send(domain.EvJoinRoomError, errorPayload(port.New(port.KindInvalidInput, "missing roomId")), time.Second)
		return
	}
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		conn.Send(domain.EvJoinRoomError, errorPayload(port.New(port.KindInvalidInput, "invalid roomId")), time.Second)
		return
	}

	result, err := h.svc.Rooms.Join(ctx, userID, roomID)
	if err != nil {
		conn.Send(domain.EvJoinRoomError, errorPayload(err), time.Second)
		return
	}

	conn.Send(domain.EvJoinRoomSuccess, map[string]any{
		"roomId":       roomID.String(),
		"participants": result.Participants,
		"history":      result.History,
	}, time.Second)
}

func (h *Handler) handleChatMessage(ctx context.Context, conn *Conn, userID uuid.UUID, data json.RawMessage) {
	var p chatMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		conn.Send(domain.EvError, errorPayload(port.New(port.KindInvalidInput, "malformed chatMessage")), time.Second)
		return
	}
	roomID, err := uuid.Parse(p.Room)
	if err != nil {
		conn.Send(domain.EvError, errorPayload(port.New(port.KindInvalidInput, "invalid room")), time.Second)
		return
	}

	in := service.SendInput{RoomID: roomID, Content: p.Content, Kind: domain.MessageKind(p.Type)}
	if p.FileData != nil {
		in.FileID = p.FileData.ID
	}

	if _, err := h.svc.Ingest.Send(ctx, userID, in); err != nil {
		conn.Send(domain.EvError, errorPayload(err), time.Second)
	}
}

func (h *Handler) handleFetchPrevious(ctx context.Context, conn *Conn, userID uuid.UUID, data json.RawMessage) {
	var p fetchPreviousMessagesPayload
	if err := json.Unmarshal(data, &p); err != nil {
		conn.Send(domain.EvError, errorPayload(port.New(port.KindInvalidInput, "malformed fetchPreviousMessages")), time.Second)
		return
	}
	roomID, err := uuid.Parse(p.RoomID)
	if err != nil {
		conn.Send(domain.EvError, errorPayload(port.New(port.KindInvalidInput, "invalid roomId")), time.Second)
		return
	}

	conn.Send(domain.EvMessageLoadStart, map[string]any{"roomId": roomID.String()}, time.Second)

	page, err := h.svc.History.Fetch(ctx, userID, roomID, p.Before, 0)
	if err != nil {
		conn.Send(domain.EvError, errorPayload(err), time.Second)
		return
	}
	if page == nil {
		// A load for the same key is already in flight; the duplicate
		// request is dropped, not queued.
		return
	}
	conn.Send(domain.EvPreviousMessagesLoaded, page, time.Second)
}

func (h *Handler) handleMarkRead(ctx context.Context, conn *Conn, userID uuid.UUID, data json.RawMessage) {
	var p markMessagesAsReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	roomID, err := uuid.Parse(p.RoomID)
	if err != nil {
		return
	}
	ids := make([]uuid.UUID, 0, len(p.MessageIDs))
	for _, s := range p.MessageIDs {
		if id, err := uuid.Parse(s); err == nil {
			ids = append(ids, id)
		}
	}
	// Silent success: no client response either way.
	_ = h.svc.Receipts.MarkRead(ctx, userID, roomID, ids)
}

func (h *Handler) handleReaction(ctx context.Context, conn *Conn, userID uuid.UUID, data json.RawMessage) {
	var p messageReactionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		conn.Send(domain.EvError, errorPayload(port.New(port.KindInvalidInput, "malformed messageReaction")), time.Second)
		return
	}
	messageID, err := uuid.Parse(p.MessageID)
	if err != nil {
		conn.Send(domain.EvError, errorPayload(port.New(port.KindInvalidInput, "invalid messageId")), time.Second)
		return
	}

	roomID, ok := h.svc.Rooms.CurrentRoom(userID)
	if !ok {
		conn.Send(domain.EvError, errorPayload(port.New(port.KindAccessDenied, "not in a room")), time.Second)
		return
	}

	if _, err := h.svc.Receipts.React(ctx, roomID, messageID, userID, p.Reaction, service.ReactionOp(p.Type)); err != nil {
		conn.Send(domain.EvError, errorPayload(err), time.Second)
	}
}

func (h *Handler) handleTyping(ctx context.Context, conn *Conn, userID uuid.UUID, data json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	h.svc.Presence.Typing(ctx, userID, p.IsTyping)
}

var validStatuses = map[string]bool{"online": true, "away": true, "busy": true, "offline": true}

func (h *Handler) handleStatus(ctx context.Context, conn *Conn, userID uuid.UUID, data json.RawMessage) {
	var p updateUserStatusPayload
	if err := json.Unmarshal(data, &p); err != nil || !validStatuses[p.Status] {
		return
	}
	h.svc.Presence.UpdateStatus(ctx, userID, p.Status)
}

// handleForceLogin terminates the live session with
// session_ended{reason: "force_logout"}. The force_login token must
// re-verify to the same user id as the live connection, so one
// session can never terminate an arbitrary other user's session.
func (h *Handler) handleForceLogin(ctx context.Context, conn *Conn, userID uuid.UUID, data json.RawMessage) {
	var p forceLoginPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	targetUser, err := h.svc.AuthCheck.VerifyToken(ctx, p.Token)
	if err != nil || targetUser != userID {
		conn.Send(domain.EvError, errorPayload(port.New(port.KindAccessDenied, "force_login token does not match session")), time.Second)
		return
	}
	conn.Send(domain.EvSessionEnded, map[string]any{"reason": "force_logout"}, time.Second)
	conn.Close()
}
