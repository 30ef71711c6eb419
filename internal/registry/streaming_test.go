package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStreamAppendAccumulatesContent(t *testing.T) {
	reg := NewStreamRegistry()
	sid := uuid.New()
	reg.Create(sid, uuid.New(), uuid.New(), "wayneAI")

	full, ok := reg.AppendChunk(sid, "hello ")
	if !ok || full != "hello " {
		t.Fatalf("unexpected first append result: %q ok=%v", full, ok)
	}
	full, ok = reg.AppendChunk(sid, "world")
	if !ok || full != "hello world" {
		t.Fatalf("unexpected accumulated content: %q ok=%v", full, ok)
	}
}

func TestStreamAppendToUnknownSession(t *testing.T) {
	reg := NewStreamRegistry()
	if _, ok := reg.AppendChunk(uuid.New(), "x"); ok {
		t.Fatal("append to an unknown stream must report not-found")
	}
}

func TestStreamSweepDropsOnlyIdleSessions(t *testing.T) {
	reg := NewStreamRegistry()
	fresh, stale := uuid.New(), uuid.New()
	reg.Create(fresh, uuid.New(), uuid.New(), "wayneAI")
	reg.Create(stale, uuid.New(), uuid.New(), "consultingAI")

	ss, ok := reg.Get(stale)
	if !ok {
		t.Fatal("stale session missing before sweep")
	}
	ss.LastActive = time.Now().Add(-31 * time.Minute)

	if dropped := reg.SweepIdle(); dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
	if _, ok := reg.Get(fresh); !ok {
		t.Fatal("fresh session must survive the sweep")
	}
	if _, ok := reg.Get(stale); ok {
		t.Fatal("stale session must be gone")
	}
}

func TestStreamRegistryBounded(t *testing.T) {
	reg := NewStreamRegistry()
	for i := 0; i < 600; i++ {
		reg.Create(uuid.New(), uuid.New(), uuid.New(), "wayneAI")
		if reg.Stats().Len > 500 {
			t.Fatalf("stream registry exceeded its bound: %d", reg.Stats().Len)
		}
	}
}

func TestInFlightDedupAndRelease(t *testing.T) {
	reg := NewInFlightRegistry()
	key := InFlightKey{RoomID: uuid.New(), UserID: uuid.New(), Before: 42}

	if !reg.TryAcquire(key) {
		t.Fatal("first acquire must succeed")
	}
	if reg.TryAcquire(key) {
		t.Fatal("duplicate acquire must be rejected while in flight")
	}

	reg.Release(key)
	if !reg.TryAcquire(key) {
		t.Fatal("acquire after release must succeed")
	}
}

func TestInFlightKeysDifferByBefore(t *testing.T) {
	reg := NewInFlightRegistry()
	room, user := uuid.New(), uuid.New()

	if !reg.TryAcquire(InFlightKey{RoomID: room, UserID: user}) {
		t.Fatal("latest-page acquire must succeed")
	}
	if !reg.TryAcquire(InFlightKey{RoomID: room, UserID: user, Before: 10}) {
		t.Fatal("a different page for the same user is a different load")
	}
}

func TestInFlightSweepAndClear(t *testing.T) {
	reg := NewInFlightRegistry()
	reg.TryAcquire(InFlightKey{RoomID: uuid.New(), UserID: uuid.New()})
	reg.TryAcquire(InFlightKey{RoomID: uuid.New(), UserID: uuid.New()})

	if removed := reg.SweepOlderThan(time.Hour); removed != 0 {
		t.Fatalf("nothing is an hour old yet, got %d removed", removed)
	}
	if removed := reg.SweepOlderThan(0); removed != 2 {
		t.Fatalf("expected both keys swept at zero max age, got %d", removed)
	}

	reg.TryAcquire(InFlightKey{RoomID: uuid.New(), UserID: uuid.New()})
	if cleared := reg.Clear(); cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}
}
