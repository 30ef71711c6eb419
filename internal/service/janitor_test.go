package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealthSink struct {
	mu       sync.Mutex
	degraded bool
	flips    int
}

func (s *fakeHealthSink) SetDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = true
	s.flips++
}

func (s *fakeHealthSink) SetHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
	s.flips++
}

func newTestJanitor(w *world, cfg JanitorConfig, sink HealthSink) *Janitor {
	return NewJanitor(cfg, w.streams, w.limiter, w.conns, w.inflight, sink, testLogger())
}

func TestSweepDropsIdleStreams(t *testing.T) {
	w := newWorld()
	j := newTestJanitor(w, DefaultJanitorConfig(), nil)

	fresh := uuid.New()
	stale := uuid.New()
	w.streams.Create(fresh, uuid.New(), uuid.New(), "wayneAI")
	w.streams.Create(stale, uuid.New(), uuid.New(), "wayneAI")
	ss, ok := w.streams.Get(stale)
	require.True(t, ok)
	ss.LastActive = time.Now().Add(-31 * time.Minute)

	j.sweepOnce()

	_, ok = w.streams.Get(fresh)
	assert.True(t, ok)
	_, ok = w.streams.Get(stale)
	assert.False(t, ok, "idle stream must be swept silently")
}

func TestSweepReapsDeadConnections(t *testing.T) {
	w := newWorld()
	j := newTestJanitor(w, DefaultJanitorConfig(), nil)

	alive, _ := w.addUser("alive")
	dead, deadConn := w.addUser("dead")
	deadConn.Close()

	j.sweepOnce()

	assert.True(t, w.conns.IsConnected(alive))
	assert.False(t, w.conns.IsConnected(dead))
}

func TestSweepDropsStaleRateBuckets(t *testing.T) {
	w := newWorld()
	logger := testLogger()

	// Force every counter onto the in-process fallback.
	limiter := newRateLimiterOverFailingCache(w, logger)
	j := NewJanitor(DefaultJanitorConfig(), w.streams, limiter, w.conns, w.inflight, nil, testLogger())

	user := uuid.New()
	require.NoError(t, limiter.Check(context.Background(), user))
	require.Equal(t, 1, limiter.FallbackLen())

	// Three windows later the old bucket is beyond the 2-minute
	// retention.
	w.clock.Advance(3 * time.Minute)
	j.sweepOnce()
	assert.Zero(t, limiter.FallbackLen())
}

func TestSweepDropsAgedInFlightKeys(t *testing.T) {
	w := newWorld()
	cfg := DefaultJanitorConfig()
	cfg.InFlightMaxAge = 0 // everything already-started counts as aged
	j := newTestJanitor(w, cfg, nil)

	require.True(t, w.inflight.TryAcquire(inFlightKeyForTest()))
	require.Equal(t, 1, w.inflight.Stats().Len)

	j.sweepOnce()
	assert.Zero(t, w.inflight.Stats().Len)
}

func TestHardHeapPressureClearsRegistriesAndFlipsHealth(t *testing.T) {
	w := newWorld()
	cfg := DefaultJanitorConfig()
	cfg.HardHeapBytes = 1 // any live heap exceeds this
	sink := &fakeHealthSink{}

	// A limiter over a failing cache accumulates fallback buckets — the
	// other transient registry the hard-pressure path must reclaim.
	limiter := newRateLimiterOverFailingCache(w, testLogger())
	j := NewJanitor(cfg, w.streams, limiter, w.conns, w.inflight, sink, testLogger())

	require.True(t, w.inflight.TryAcquire(inFlightKeyForTest()))
	require.NoError(t, limiter.Check(context.Background(), uuid.New()))
	require.Equal(t, 1, limiter.FallbackLen())

	j.sweepOnce()

	assert.Zero(t, w.inflight.Stats().Len)
	assert.Zero(t, limiter.FallbackLen(), "rate-limit fallback must be cleared under hard pressure")
	sink.mu.Lock()
	degraded := sink.degraded
	sink.mu.Unlock()
	assert.True(t, degraded)

	// Pressure subsides: the next sweep restores health.
	cfg.HardHeapBytes = 1 << 62
	cfg.SoftHeapBytes = 1 << 62
	j.SetConfig(cfg)
	j.sweepOnce()
	sink.mu.Lock()
	degraded = sink.degraded
	sink.mu.Unlock()
	assert.False(t, degraded)
}

func TestJanitorRunStopsOnContextCancel(t *testing.T) {
	w := newWorld()
	cfg := DefaultJanitorConfig()
	cfg.Interval = 5 * time.Millisecond
	j := newTestJanitor(w, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on context cancel")
	}
}
