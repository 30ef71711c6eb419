package registry

import (
	"time"

	"github.com/google/uuid"
)

// InFlightKey identifies a single in-progress history load: per
// (roomId, userId, before) key, at most one load runs at a time.
type InFlightKey struct {
	RoomID uuid.UUID
	UserID uuid.UUID
	Before int64 // 0 means "latest"
}

// InFlightRegistry is the bounded in-flight set of history loads (max
// 1,000 keys).
type InFlightRegistry struct {
	bound *Bounded[InFlightKey, time.Time]
}

func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{bound: NewBounded[InFlightKey, time.Time](1000)}
}

// TryAcquire registers key as in-flight, returning false if a load
// for that exact key is already running — duplicates are dropped, not
// queued.
func (r *InFlightRegistry) TryAcquire(key InFlightKey) bool {
	if _, ok := r.bound.Get(key); ok {
		return false
	}
	r.bound.Put(key, time.Now())
	return true
}

func (r *InFlightRegistry) Release(key InFlightKey) {
	r.bound.Delete(key)
}

// SweepOlderThan drops in-flight markers older than maxAge — a safety
// net in case a load goroutine never releases its key (e.g. it
// panicked before the deferred release ran).
func (r *InFlightRegistry) SweepOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	return r.bound.RemoveIf(func(_ InFlightKey, started time.Time) bool {
		return started.Before(cutoff)
	})
}

func (r *InFlightRegistry) Stats() Stats { return r.bound.Stats() }

// Clear drops every in-flight marker — used by the janitor under hard
// memory pressure.
func (r *InFlightRegistry) Clear() int {
	return r.bound.RemoveIf(func(InFlightKey, time.Time) bool { return true })
}
