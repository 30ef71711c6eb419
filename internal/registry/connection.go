package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is the transport-agnostic handle a session transport (the
// websocket handler) implements: one Conn per user, not a multiplexed
// session set.
type Conn interface {
	ID() uuid.UUID
	UserID() uuid.UUID
	// Send pushes an outbound event to the client. It must not block
	// past timeout: a slow session must not hold up the registry.
	Send(eventName string, payload any, timeout time.Duration) bool
	// Close forcibly terminates the underlying transport.
	Close()
	// Connected reports whether the underlying transport is still
	// alive, used by the janitor to reap dead entries.
	Connected() bool
	// Meta describes the peer for the duplicate_login warning payload.
	Meta() ConnMeta
}

// ConnMeta carries the transport-level peer details surfaced to an
// incumbent session when a newer session pre-empts it.
type ConnMeta struct {
	UserAgent string
	IP        string
}

// Entry is the in-memory per-user connection record. Room and
// activity are atomics because fan-out reads them concurrently with
// membership transitions writing them.
type Entry struct {
	Conn      Conn
	CreatedAt time.Time

	lastActivity atomic.Int64 // unix millis
	currentRoom  atomic.Pointer[uuid.UUID]
}

// Room reports the room this connection is joined to, if any.
func (e *Entry) Room() (uuid.UUID, bool) {
	r := e.currentRoom.Load()
	if r == nil {
		return uuid.Nil, false
	}
	return *r, true
}

// LastActive reports the entry's last recorded activity.
func (e *Entry) LastActive() time.Time {
	return time.UnixMilli(e.lastActivity.Load())
}

// ConnRegistry enforces single-active-session semantics with
// pre-emption of the prior session. It is built directly on the
// bounded registry (max 2,000 connections); each entry holds exactly
// one connection.
type ConnRegistry struct {
	mu      sync.Mutex // guards preemption state transitions per user
	entries *Bounded[uuid.UUID, *Entry]
	pending map[uuid.UUID]*preemption

	preemptTimeout time.Duration
	logger         *slog.Logger
}

// preemption is one armed grace-period timer plus the incumbent it is
// owed to. Tracking the incumbent lets a stale timer callback (or a
// later session's re-arm) tell whose obligation it is looking at.
type preemption struct {
	timer     *time.Timer
	incumbent Conn
}

func NewConnRegistry(logger *slog.Logger) *ConnRegistry {
	return &ConnRegistry{
		entries:        NewBounded[uuid.UUID, *Entry](2000),
		pending:        make(map[uuid.UUID]*preemption),
		preemptTimeout: 8 * time.Second,
		logger:         logger,
	}
}

// SetPreemptTimeout overrides the 8s default grace period before a
// pre-empted session is force-closed; applied at startup from config.
func (c *ConnRegistry) SetPreemptTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.preemptTimeout = d
	}
}

// Lookup returns the current connection for userID, if any.
func (c *ConnRegistry) Lookup(userID uuid.UUID) (Conn, bool) {
	e, ok := c.entries.Get(userID)
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// CurrentRoom returns the room the user is currently joined to, if any.
func (c *ConnRegistry) CurrentRoom(userID uuid.UUID) (uuid.UUID, bool) {
	e, ok := c.entries.Get(userID)
	if !ok {
		return uuid.Nil, false
	}
	return e.Room()
}

// SetCurrentRoom records the user's joined room, or clears it when
// room is nil.
func (c *ConnRegistry) SetCurrentRoom(userID uuid.UUID, room *uuid.UUID) {
	e, ok := c.entries.Get(userID)
	if !ok {
		return
	}
	e.currentRoom.Store(room)
}

// Touch bumps last-activity for userID.
func (c *ConnRegistry) Touch(userID uuid.UUID) {
	e, ok := c.entries.Get(userID)
	if !ok {
		return
	}
	e.lastActivity.Store(time.Now().UnixMilli())
}

// Register inserts the connection if the user has none. If an entry
// exists for a different handle, it warns the incumbent, arms the
// pre-emption timer, and replaces immediately so the newer session is
// authoritative right away.
func (c *ConnRegistry) Register(ctx context.Context, conn Conn) {
	userID := conn.UserID()

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries.Get(userID)
	now := time.Now()

	if !ok {
		c.entries.Put(userID, newEntry(conn, now))
		return
	}

	if existing.Conn.ID() == conn.ID() {
		// Idempotent re-registration of the same handle.
		return
	}

	incumbent := existing.Conn

	// Replace immediately: the newer session is authoritative the
	// instant it authenticates.
	c.entries.Put(userID, newEntry(conn, now))

	// Warn the incumbent, then force-close it after the grace period
	// unless it disconnects gracefully first, whichever comes first.
	meta := conn.Meta()
	incumbent.Send(duplicateLoginWarning, map[string]any{
		"userAgent": meta.UserAgent,
		"ip":        meta.IP,
		"timestamp": now.UnixMilli(),
	}, 500*time.Millisecond)

	c.armPreemption(userID, incumbent)
}

const duplicateLoginWarning = "duplicate_login"

func newEntry(conn Conn, now time.Time) *Entry {
	e := &Entry{Conn: conn, CreatedAt: now}
	e.lastActivity.Store(now.UnixMilli())
	return e
}

// armPreemption is called under c.mu. If a prior pre-emption is still
// pending for this user — a rapid re-auth chain where a third session
// arrives before the second session's grace period for the first has
// elapsed — the old incumbent's obligation is honored immediately
// rather than silently dropped: it already received duplicate_login
// and is still owed its session_ended.
func (c *ConnRegistry) armPreemption(userID uuid.UUID, incumbent Conn) {
	if old, ok := c.pending[userID]; ok {
		old.timer.Stop()
		delete(c.pending, userID)
		if old.incumbent.ID() != incumbent.ID() {
			endSession(old.incumbent)
		}
	}

	p := &preemption{incumbent: incumbent}
	p.timer = time.AfterFunc(c.preemptTimeout, func() {
		c.finishPreemption(userID, incumbent)
	})
	c.pending[userID] = p
}

// finishPreemption sends session_ended and force-closes the incumbent.
// It is safe to call twice (e.g. once from the timer, once from a
// graceful disconnect race), and safe against a stale timer callback
// racing a newer session's re-armed pre-emption: only the call whose
// incumbent still owns the pending entry proceeds, so each incumbent
// sees session_ended exactly once.
func (c *ConnRegistry) finishPreemption(userID uuid.UUID, incumbent Conn) {
	c.mu.Lock()
	p, armed := c.pending[userID]
	owns := armed && p.incumbent.ID() == incumbent.ID()
	if owns {
		delete(c.pending, userID)
	}
	c.mu.Unlock()

	if !owns {
		return
	}
	p.timer.Stop()
	endSession(incumbent)
}

func endSession(conn Conn) {
	conn.Send("session_ended", map[string]any{"reason": "duplicate_login"}, 500*time.Millisecond)
	conn.Close()
}

// CancelPreemption disarms the pre-emption timer for userID — called
// when the incumbent disconnects gracefully before the timer fires.
// It still runs the session_ended + close path immediately, so the
// incumbent always receives exactly one session_ended notification.
func (c *ConnRegistry) CancelPreemption(userID uuid.UUID, incumbent Conn) {
	c.finishPreemption(userID, incumbent)
}

// Unregister removes the entry for userID only if it still points at
// conn (guarding against races with pre-emption), reporting whether
// the entry was removed. A false return means connID was already
// replaced by a newer session — the caller must treat the disconnect
// as the pre-empted side and skip leave announcements. Any
// pre-emption timer pending for userID is left armed: it belongs to
// the previous incumbent, which still has a session_ended owed to it.
func (c *ConnRegistry) Unregister(userID uuid.UUID, connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(userID)
	if !ok || e.Conn.ID() != connID {
		return false
	}
	c.entries.Delete(userID)
	return true
}

// IsConnected reports whether userID has a live entry — used by
// cross-instance fan-out to decide locality.
func (c *ConnRegistry) IsConnected(userID uuid.UUID) bool {
	_, ok := c.entries.Get(userID)
	return ok
}

// Stats exposes registry occupancy for the admin/observability surface.
func (c *ConnRegistry) Stats() Stats { return c.entries.Stats() }

// ReapDead removes entries whose underlying transport reports not
// connected; the janitor runs it on every sweep.
func (c *ConnRegistry) ReapDead() int {
	return c.entries.RemoveIf(func(_ uuid.UUID, e *Entry) bool {
		return !e.Conn.Connected()
	})
}

// Range iterates live entries in insertion order; fan-out uses it to
// reach the subset of users in a given room.
func (c *ConnRegistry) Range(fn func(userID uuid.UUID, e *Entry) bool) {
	c.entries.Range(fn)
}
