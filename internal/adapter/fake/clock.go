// Package fake provides in-memory reference implementations of every
// external collaborator interface in internal/port. These are not
// production adapters — the durable store, cache, auth subsystem and
// AI generator live outside the core entirely — but a runnable server
// and a useful test suite both need *something* behind those
// interfaces, so this package supplies the simplest correct one.
package fake

import "time"

// SystemClock implements port.Clock over the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Frozen implements port.Clock with a settable time, for deterministic
// tests of window-based logic (rate limiting, idle expiry).
type Frozen struct {
	t time.Time
}

func NewFrozen(t time.Time) *Frozen { return &Frozen{t: t} }

func (f *Frozen) Now() time.Time { return f.t }

func (f *Frozen) Advance(d time.Duration) { f.t = f.t.Add(d) }

func (f *Frozen) Set(t time.Time) { f.t = t }
