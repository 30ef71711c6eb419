// Package tui implements the operator dashboard: a termui-based
// terminal view of one gateway instance's live occupancy, polled over
// the admin HTTP surface.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/chatmesh/gateway/internal/registry"
)

// Config controls which instance the dashboard watches and how often.
type Config struct {
	Addr     string
	Interval time.Duration
}

// Run blocks until the user quits (q / Ctrl-C) or ctx is cancelled,
// redrawing the dashboard every Config.Interval from the target
// instance's /stats and /healthz endpoints.
func Run(ctx context.Context, cfg Config) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("tui init: %w", err)
	}
	defer ui.Close()

	client := &http.Client{Timeout: 3 * time.Second}

	header := widgets.NewParagraph()
	header.Title = "chatmesh-gateway"
	header.Text = cfg.Addr
	header.SetRect(0, 0, 60, 3)

	health := widgets.NewParagraph()
	health.Title = "health"
	health.SetRect(0, 3, 30, 6)

	gauges := map[string]*widgets.Gauge{
		"connections": newGauge("connections", 0, 6, 60, 9),
		"streams":     newGauge("streaming sessions", 0, 9, 60, 12),
		"memberships": newGauge("memberships", 0, 12, 60, 15),
		"inflight":    newGauge("inflight loads", 0, 15, 60, 18),
	}

	grid := []ui.Drawable{header, health}
	for _, g := range gauges {
		grid = append(grid, g)
	}
	ui.Render(grid...)

	events := ui.PollEvents()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	refresh := func() {
		snap, err := fetchStats(client, cfg.Addr)
		if err != nil {
			health.Text = "unreachable: " + err.Error()
			ui.Render(health)
			return
		}
		health.Text = "ok"
		setGauge(gauges["connections"], snap.Connections)
		setGauge(gauges["streams"], snap.StreamingSessions)
		setGauge(gauges["memberships"], snap.Memberships)
		setGauge(gauges["inflight"], snap.InFlightLoads)
		ui.Render(grid...)
	}
	refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			refresh()
		}
	}
}

func newGauge(title string, x1, y1, x2, y2 int) *widgets.Gauge {
	g := widgets.NewGauge()
	g.Title = title
	g.SetRect(x1, y1, x2, y2)
	return g
}

func setGauge(g *widgets.Gauge, s registry.Stats) {
	g.Percent = hitRatio(s)
	g.Label = fmt.Sprintf("len=%d evicted=%d hit_ratio=%d%%", s.Len, s.Evicted, g.Percent)
}

// hitRatio is the closest thing a Bounded registry's Stats exposes to
// an at-a-glance health number: a falling hit ratio under steady
// traffic means the registry is too small for the working set, the
// signal an operator watching this dashboard actually cares about.
func hitRatio(s registry.Stats) int {
	total := s.Hits + s.Misses
	if total == 0 {
		return 100
	}
	pct := int(s.Hits * 100 / total)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

func fetchStats(client *http.Client, addr string) (registry.HubStats, error) {
	req, err := http.NewRequest(http.MethodGet, addr+"/stats", nil)
	if err != nil {
		return registry.HubStats{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return registry.HubStats{}, err
	}
	defer resp.Body.Close()

	var snap registry.HubStats
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return registry.HubStats{}, err
	}
	return snap, nil
}
