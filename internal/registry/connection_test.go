package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeConn struct {
	id, userID uuid.UUID

	mu        sync.Mutex
	connected bool
	closed    bool
	received  []string
}

func newFakeConn(userID uuid.UUID) *fakeConn {
	return &fakeConn{id: uuid.New(), userID: userID, connected: true}
}

func (f *fakeConn) ID() uuid.UUID     { return f.id }
func (f *fakeConn) UserID() uuid.UUID { return f.userID }
func (f *fakeConn) Send(event string, payload any, timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, event)
	return true
}
func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
}
func (f *fakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeConn) Meta() ConnMeta {
	return ConnMeta{UserAgent: "test-agent", IP: "127.0.0.1"}
}
func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	copy(out, f.received)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterTakesOverAndPreemptsIncumbent(t *testing.T) {
	reg := NewConnRegistry(testLogger())
	reg.preemptTimeout = 30 * time.Millisecond
	userID := uuid.New()

	c1 := newFakeConn(userID)
	reg.Register(context.Background(), c1)

	c2 := newFakeConn(userID)
	reg.Register(context.Background(), c2)

	// Property 1: Lookup immediately reflects the newer session.
	got, ok := reg.Lookup(userID)
	if !ok || got.ID() != c2.ID() {
		t.Fatalf("expected lookup to return c2 immediately after registration")
	}

	// The incumbent must receive duplicate_login right away.
	deadline := time.After(time.Second)
	for {
		evs := c1.events()
		if len(evs) > 0 && evs[0] == duplicateLoginWarning {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("c1 never received duplicate_login warning, got %v", evs)
		case <-time.After(time.Millisecond):
		}
	}

	// Within the pre-emption window, c1 must be forcibly closed with
	// session_ended.
	deadline = time.After(time.Second)
	for {
		if c1.isClosed() {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("incumbent was never closed")
		case <-time.After(time.Millisecond):
		}
	}

	evs := c1.events()
	if evs[len(evs)-1] != "session_ended" {
		t.Fatalf("expected last event to be session_ended, got %v", evs)
	}
}

func TestUnregisterNoopIfAlreadyReplaced(t *testing.T) {
	reg := NewConnRegistry(testLogger())
	userID := uuid.New()

	c1 := newFakeConn(userID)
	reg.Register(context.Background(), c1)
	c2 := newFakeConn(userID)
	reg.Register(context.Background(), c2)

	// Property 2: unregistering the stale handle c1 must not disturb c2.
	reg.Unregister(userID, c1.ID())

	got, ok := reg.Lookup(userID)
	if !ok || got.ID() != c2.ID() {
		t.Fatalf("expected c2 to remain registered after stale unregister")
	}
}

func TestGracefulDisconnectCancelsPreemptionTimerAndSendsExactlyOnce(t *testing.T) {
	reg := NewConnRegistry(testLogger())
	reg.preemptTimeout = 50 * time.Millisecond
	userID := uuid.New()

	c1 := newFakeConn(userID)
	reg.Register(context.Background(), c1)
	c2 := newFakeConn(userID)
	reg.Register(context.Background(), c2)

	// Simulate a graceful disconnect of the incumbent before the timer
	// fires: the transport calls CancelPreemption.
	reg.CancelPreemption(userID, c1)

	time.Sleep(100 * time.Millisecond) // let the (disarmed) timer's window pass

	evs := c1.events()
	count := 0
	for _, e := range evs {
		if e == "session_ended" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one session_ended, got %d in %v", count, evs)
	}
}

func TestCascadingPreemptionHonorsEveryIncumbent(t *testing.T) {
	reg := NewConnRegistry(testLogger())
	reg.preemptTimeout = 60 * time.Millisecond
	userID := uuid.New()

	c1 := newFakeConn(userID)
	reg.Register(context.Background(), c1)
	c2 := newFakeConn(userID)
	reg.Register(context.Background(), c2)

	// A third session arrives while c1's grace period is still
	// pending. c1's obligation must be honored immediately, not
	// silently dropped with its timer.
	c3 := newFakeConn(userID)
	reg.Register(context.Background(), c3)

	if !c1.isClosed() {
		t.Fatal("first incumbent must be closed as soon as its pending pre-emption is superseded")
	}
	if got := countOf(c1.events(), "session_ended"); got != 1 {
		t.Fatalf("first incumbent expected exactly one session_ended, got %d in %v", got, c1.events())
	}

	// The middle session still runs through the normal warn-then-end
	// cycle on its own timer.
	if got := countOf(c2.events(), duplicateLoginWarning); got != 1 {
		t.Fatalf("middle incumbent expected one duplicate_login, got %d in %v", got, c2.events())
	}

	deadline := time.After(time.Second)
	for !c2.isClosed() {
		select {
		case <-deadline:
			t.Fatal("middle incumbent was never closed")
		case <-time.After(time.Millisecond):
		}
	}
	if got := countOf(c2.events(), "session_ended"); got != 1 {
		t.Fatalf("middle incumbent expected exactly one session_ended, got %d in %v", got, c2.events())
	}
	if got := countOf(c1.events(), "session_ended"); got != 1 {
		t.Fatalf("first incumbent must not receive a second session_ended, got %d", got)
	}

	got, ok := reg.Lookup(userID)
	if !ok || got.ID() != c3.ID() {
		t.Fatal("newest session must own the registry entry")
	}
}

func countOf(events []string, name string) int {
	n := 0
	for _, e := range events {
		if e == name {
			n++
		}
	}
	return n
}

func TestConnRegistryNeverExceedsMax(t *testing.T) {
	reg := NewConnRegistry(testLogger())
	for i := 0; i < 2500; i++ {
		c := newFakeConn(uuid.New())
		reg.Register(context.Background(), c)
		if reg.Stats().Len > 2000 {
			t.Fatalf("registry exceeded max size: %d", reg.Stats().Len)
		}
	}
}
