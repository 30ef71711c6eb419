package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", testLogger())
	require.NoError(t, err)

	assert.Equal(t, "chatmesh-gateway", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, ":9090", cfg.AdminGRPC.ListenAddr)
	assert.Equal(t, "local", cfg.Bus.Driver)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, int64(40), cfg.RateLimit.Max)
	assert.Equal(t, 25, cfg.History.DefaultLimit)
	assert.Equal(t, 8*time.Second, cfg.History.FetchTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Janitor.Interval)
	assert.Equal(t, 8*time.Second, cfg.Connection.PreemptTimeout)
	assert.Equal(t, []string{"wayneAI", "consultingAI"}, cfg.AI.Models)
}

func TestApplyHotReloadableCopiesOnlyTunables(t *testing.T) {
	live, err := Load("", testLogger())
	require.NoError(t, err)

	reloaded, err := Load("", testLogger())
	require.NoError(t, err)
	reloaded.RateLimit.Max = 99
	reloaded.History.DefaultLimit = 50
	reloaded.Janitor.Interval = time.Minute
	reloaded.Connection.PreemptTimeout = 2 * time.Second
	reloaded.AI.Models = []string{"wayneAI"}
	// Structural settings must not follow a reload.
	reloaded.HTTP.ListenAddr = ":1"
	reloaded.Bus.Driver = "amqp"

	applyHotReloadable(live, reloaded)

	assert.Equal(t, int64(99), live.RateLimit.Max)
	assert.Equal(t, 50, live.History.DefaultLimit)
	assert.Equal(t, time.Minute, live.Janitor.Interval)
	assert.Equal(t, 2*time.Second, live.Connection.PreemptTimeout)
	assert.Equal(t, []string{"wayneAI"}, live.AI.Models)
	assert.Equal(t, ":8080", live.HTTP.ListenAddr, "listen address is not hot-reloadable")
	assert.Equal(t, "local", live.Bus.Driver, "bus driver is not hot-reloadable")
}

func TestOnReloadHooksFireWithUpdatedValues(t *testing.T) {
	live, err := Load("", testLogger())
	require.NoError(t, err)

	var seen []int64
	live.OnReload(func(c *Config) { seen = append(seen, c.RateLimit.Max) })
	live.OnReload(func(c *Config) { seen = append(seen, c.RateLimit.Max) })

	reloaded := &Config{}
	reloaded.RateLimit.Max = 7
	applyHotReloadable(live, reloaded)
	live.notifyReload()

	assert.Equal(t, []int64{7, 7}, seen, "every hook observes the post-reload values")
}
