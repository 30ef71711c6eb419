package service

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/chatmesh/gateway/internal/registry"
)

// JanitorConfig bundles the sweep interval and heap-pressure
// thresholds.
type JanitorConfig struct {
	Interval        time.Duration
	RateWindowStale int64
	InFlightMaxAge  time.Duration
	SoftHeapBytes   uint64
	HardHeapBytes   uint64
}

func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:        3 * time.Minute,
		RateWindowStale: 2, // ~2 windows' worth at 60s each, matching "older than 2 min"
		InFlightMaxAge:  5 * time.Minute,
		SoftHeapBytes:   512 * 1024 * 1024,
		HardHeapBytes:   1024 * 1024 * 1024,
	}
}

// HealthSink lets the janitor report hard memory pressure to the admin
// gRPC health service (infra/grpcadmin) without the service layer
// importing the transport/infra packages directly.
type HealthSink interface {
	SetDegraded()
	SetHealthy()
}

// Janitor runs the periodic sweep across every bounded registry plus
// heap-pressure watching. The config is an atomic snapshot so hot
// reload can retune intervals and thresholds on a running instance.
type Janitor struct {
	cfg      atomic.Pointer[JanitorConfig]
	streams  *registry.StreamRegistry
	limiter  *registry.RateLimiter
	conns    *registry.ConnRegistry
	inflight *registry.InFlightRegistry
	health   HealthSink
	logger   *slog.Logger

	stop    chan struct{}
	flagged bool
}

func NewJanitor(cfg JanitorConfig, streams *registry.StreamRegistry, limiter *registry.RateLimiter, conns *registry.ConnRegistry, inflight *registry.InFlightRegistry, health HealthSink, logger *slog.Logger) *Janitor {
	j := &Janitor{
		streams:  streams,
		limiter:  limiter,
		conns:    conns,
		inflight: inflight,
		health:   health,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	j.cfg.Store(&cfg)
	return j
}

// SetConfig swaps the sweep tunables; config hot reload calls it. The
// new interval takes effect from the next sweep cycle.
func (j *Janitor) SetConfig(cfg JanitorConfig) { j.cfg.Store(&cfg) }

// Run blocks, sweeping every cfg.Interval until ctx is canceled or
// Stop is called. The interval is re-read each cycle so a reloaded
// value applies without restarting the loop.
func (j *Janitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-time.After(j.cfg.Load().Interval):
			j.sweepOnce()
		}
	}
}

func (j *Janitor) Stop() { close(j.stop) }

func (j *Janitor) sweepOnce() {
	cfg := j.cfg.Load()
	droppedStreams := j.streams.SweepIdle()
	droppedRate := j.limiter.DropWindowsOlderThan(cfg.RateWindowStale)
	reapedConns := j.conns.ReapDead()
	droppedInFlight := j.inflight.SweepOlderThan(cfg.InFlightMaxAge)

	j.logger.Debug("janitor sweep complete",
		"dropped_streams", droppedStreams,
		"dropped_rate_buckets", droppedRate,
		"reaped_connections", reapedConns,
		"dropped_inflight", droppedInFlight,
	)

	j.checkHeap()
}

// checkHeap logs a warning above the soft threshold; above the hard
// threshold it clears the rate and history-load registries and asks
// the runtime for a GC pass.
func (j *Janitor) checkHeap() {
	cfg := j.cfg.Load()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	switch {
	case mem.HeapAlloc >= cfg.HardHeapBytes:
		j.logger.Warn("heap above hard threshold, clearing transient registries", "heap_alloc", mem.HeapAlloc)
		clearedLoads := j.inflight.Clear()
		clearedRate := j.limiter.Clear()
		j.logger.Warn("cleared transient registries under memory pressure",
			"inflight_loads", clearedLoads,
			"rate_buckets", clearedRate,
		)
		if j.health != nil {
			j.health.SetDegraded()
		}
		j.flagged = true
		runtime.GC()
	case mem.HeapAlloc >= cfg.SoftHeapBytes:
		j.logger.Warn("heap above soft threshold", "heap_alloc", mem.HeapAlloc)
	default:
		if j.flagged && j.health != nil {
			j.health.SetHealthy()
			j.flagged = false
		}
	}
}
