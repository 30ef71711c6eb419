// Package ws is the client-facing session transport: bidirectional
// framed messages over a websocket — upgrade, subscribe into the
// core, pump events in both directions until disconnect.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatmesh/gateway/internal/registry"
)

// writeQueueSize bounds how many outbound events can be buffered for a
// single slow client before Send starts reporting failure — a slow
// session must not hold up the registries, so Fanout's loop never
// blocks on a single socket's TCP backpressure.
const writeQueueSize = 256

// Conn adapts one gorilla websocket connection to registry.Conn. Writes
// are serialized through a single pump goroutine because
// *websocket.Conn forbids concurrent writers. Shutdown is signalled via
// the done channel rather than by closing outbound, so a Send racing a
// Close can never hit a closed channel.
type Conn struct {
	id     uuid.UUID
	userID uuid.UUID
	meta   registry.ConnMeta
	ws     *websocket.Conn
	logger *slog.Logger

	outbound  chan wireFrame
	done      chan struct{}
	closeOnce sync.Once
}

type wireFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func newConn(userID uuid.UUID, meta registry.ConnMeta, wsConn *websocket.Conn, logger *slog.Logger) *Conn {
	c := &Conn{
		id:       uuid.New(),
		userID:   userID,
		meta:     meta,
		ws:       wsConn,
		logger:   logger,
		outbound: make(chan wireFrame, writeQueueSize),
		done:     make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *Conn) ID() uuid.UUID           { return c.id }
func (c *Conn) UserID() uuid.UUID       { return c.userID }
func (c *Conn) Meta() registry.ConnMeta { return c.meta }

// Send enqueues an outbound event, never blocking past timeout — a
// full queue and a closed connection both count as failure, matching
// registry.Conn's contract.
func (c *Conn) Send(event string, payload any, timeout time.Duration) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbound <- wireFrame{Event: event, Data: payload}:
		return true
	case <-c.done:
		return false
	case <-time.After(timeout):
		c.logger.Warn("ws send queue full, dropping event", "user_id", c.userID, "event", event)
		return false
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbound:
			body, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("ws frame marshal failed", "err", err, "event", frame.Event)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
				c.logger.Debug("ws write failed, closing", "err", err, "user_id", c.userID)
				c.Close()
				return
			}
		}
	}
}

// Close forcibly terminates the underlying transport — idempotent, as
// registry.ConnRegistry requires.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Connected reports whether the transport is still alive, used by
// the janitor to reap dead entries.
func (c *Conn) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

var _ registry.Conn = (*Conn)(nil)
