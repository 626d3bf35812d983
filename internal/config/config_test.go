package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshlobby/internal/core"
	"github.com/1ureka/meshlobby/internal/game"
	"github.com/1ureka/meshlobby/internal/localplayer"
	"github.com/1ureka/meshlobby/internal/remote"
	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/transport"
)

func TestDefaultMatchesPackages(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Session.MaxMembers)
	assert.Equal(t, session.DefaultConfig(), cfg.Session.Manager())
	assert.Equal(t, remote.DefaultConfig(), cfg.Sync.Synchronizer())
	assert.Equal(t, localplayer.DefaultConfig(), cfg.Input.Sampler())
	assert.Equal(t, transport.DefaultConfig(), cfg.Transport.WebRTC())
	assert.Equal(t, game.DefaultConfig(), cfg.Game.Rules())

	opts := cfg.Router.Options()
	assert.True(t, opts.RelayBroadcast)
	assert.Equal(t, 256, opts.DedupeWindow)
	assert.Equal(t, "info", cfg.Log.Level)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshlobby.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
lobby:
  url: ws://lobby.example:9000/ws
session:
  max_members: 4
  accept_window: 5s
sync:
  body:
    divisor: 25
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://lobby.example:9000/ws", cfg.Lobby.URL)
	assert.Equal(t, 4, cfg.Session.MaxMembers)
	assert.Equal(t, 5*time.Second, cfg.Session.AcceptWindow)
	assert.Equal(t, float32(25), cfg.Sync.Body.Divisor)
	assert.Equal(t, float32(0.2), cfg.Sync.Body.MaxSmooth, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MESHLOBBY_SESSION_MAX_ATTEMPTS", "5")
	t.Setenv("MESHLOBBY_INPUT_TELEPORT_COOLDOWN", "2s")
	t.Setenv("MESHLOBBY_LOG_LEVEL", "warn")

	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Session.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Input.TeleportCooldown)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MESHLOBBY_SESSION_MAX_MEMBERS", "3")
	cfg, err := Load(writeFile(t, "session:\n  max_members: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Session.MaxMembers)
}

func TestValidateReportsEveryViolation(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	cfg.Session.MaxMembers = 1
	cfg.Session.RetryInterval = 0
	cfg.Router.DedupeWindow = -1
	cfg.Sync.Hand.MinSmooth = 1
	cfg.Input.SendRate = 0
	cfg.Transport.LowWaterMark = cfg.Transport.HighWaterMark
	cfg.Transport.STUNServers = []string{"turn:relay.example"}
	cfg.Log.Level = "verbose"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"session.max_members",
		"session.retry_interval",
		"router.dedupe_window",
		"sync.hand smoothing range",
		"input.send_rate",
		"transport.low_water_mark",
		"turn:relay.example",
		"log.level",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestInvalidFileRejected(t *testing.T) {
	_, err := Load(writeFile(t, "transport:\n  send_buffer: 0\n"))
	assert.ErrorContains(t, err, "transport.send_buffer")
}

func TestCoreConfig(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, core.DefaultConfig(), cfg.Core())
}
