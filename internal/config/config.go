// Package config provides Viper-based configuration loading for the lobby
// server and the mesh client.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/meshlobby/internal/game"
	"github.com/1ureka/meshlobby/internal/localplayer"
	"github.com/1ureka/meshlobby/internal/remote"
	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/transport"
)

// LobbyConfig locates the lobby service.
type LobbyConfig struct {
	// URL is the WebSocket endpoint clients dial.
	URL string `mapstructure:"url"`
	// Listen is the address lobbyd binds.
	Listen string `mapstructure:"listen"`
	// MetricsPath is where lobbyd serves Prometheus metrics.
	MetricsPath string `mapstructure:"metrics_path"`
	// GameVersion is published with created lobbies.
	GameVersion string `mapstructure:"game_version"`
}

// SessionConfig holds connection timing.
type SessionConfig struct {
	MaxMembers     int           `mapstructure:"max_members"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	AcceptWindow   time.Duration `mapstructure:"accept_window"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	VerifyDelay    time.Duration `mapstructure:"verify_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	DrainBatch     int           `mapstructure:"drain_batch"`
	LobbyTimeout   time.Duration `mapstructure:"lobby_timeout"`
}

type RouterConfig struct {
	RelayBroadcast bool `mapstructure:"relay_broadcast"`
	DedupeWindow   int  `mapstructure:"dedupe_window"`
}

// SmoothingConfig tunes one kind of tracked point.
type SmoothingConfig struct {
	Divisor      float32 `mapstructure:"divisor"`
	MinSmooth    float32 `mapstructure:"min_smooth"`
	MaxSmooth    float32 `mapstructure:"max_smooth"`
	FloorSpeed   float32 `mapstructure:"floor_speed"`
	Epsilon      float32 `mapstructure:"epsilon"`
	SnapDistance float32 `mapstructure:"snap_distance"`
}

type SyncConfig struct {
	GraceUpdates int             `mapstructure:"grace_updates"`
	Body         SmoothingConfig `mapstructure:"body"`
	Hand         SmoothingConfig `mapstructure:"hand"`
}

// InputConfig controls local snapshot sampling.
type InputConfig struct {
	SendRate             float64       `mapstructure:"send_rate"`
	PositionThreshold    float32       `mapstructure:"position_threshold"`
	RotationThresholdDeg float32       `mapstructure:"rotation_threshold_deg"`
	TeleportCooldown     time.Duration `mapstructure:"teleport_cooldown"`
}

type TransportConfig struct {
	STUNServers   []string `mapstructure:"stun_servers"`
	HighWaterMark uint64   `mapstructure:"high_water_mark"`
	LowWaterMark  uint64   `mapstructure:"low_water_mark"`
	SendBuffer    int      `mapstructure:"send_buffer"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// File, when set, receives a rotated copy of the log.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// GameConfig scales incoming damage.
type GameConfig struct {
	DamageScale  float32            `mapstructure:"damage_scale"`
	OtherScale   float32            `mapstructure:"other_scale"`
	DamageByType map[string]float32 `mapstructure:"damage_by_type"`
}

// Config is the top-level configuration.
type Config struct {
	Lobby     LobbyConfig     `mapstructure:"lobby"`
	Session   SessionConfig   `mapstructure:"session"`
	Router    RouterConfig    `mapstructure:"router"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Input     InputConfig     `mapstructure:"input"`
	Transport TransportConfig `mapstructure:"transport"`
	Log       LogConfig       `mapstructure:"log"`
	Game      GameConfig      `mapstructure:"game"`
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() (Config, error) {
	return Load("")
}

// Load reads the YAML file at path, when path is non-empty, applies
// MESHLOBBY_ environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MESHLOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section and reports all violations at once.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateLobby(c.Lobby),
		validateSession(c.Session),
		validateRouter(c.Router),
		validateSync(c.Sync),
		validateInput(c.Input),
		validateTransport(c.Transport),
		validateLog(c.Log),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func join(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func validateLobby(l LobbyConfig) error {
	var errs []string
	if l.URL == "" {
		errs = append(errs, "lobby.url must not be empty")
	}
	if l.Listen == "" {
		errs = append(errs, "lobby.listen must not be empty")
	}
	if !strings.HasPrefix(l.MetricsPath, "/") {
		errs = append(errs, fmt.Sprintf("lobby.metrics_path must start with /, got %q", l.MetricsPath))
	}
	return join(errs)
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.MaxMembers < 2 {
		errs = append(errs, fmt.Sprintf("session.max_members must be >= 2, got %d", s.MaxMembers))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("session.max_attempts must be >= 1, got %d", s.MaxAttempts))
	}
	if s.DrainBatch < 1 {
		errs = append(errs, fmt.Sprintf("session.drain_batch must be >= 1, got %d", s.DrainBatch))
	}
	for name, d := range map[string]time.Duration{
		"initial_delay":   s.InitialDelay,
		"reconnect_delay": s.ReconnectDelay,
		"verify_delay":    s.VerifyDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("session.%s must not be negative", name))
		}
	}
	for name, d := range map[string]time.Duration{
		"accept_window":  s.AcceptWindow,
		"retry_interval": s.RetryInterval,
		"lobby_timeout":  s.LobbyTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("session.%s must be positive", name))
		}
	}
	// map iteration order varies
	slices.Sort(errs)
	return join(errs)
}

func validateRouter(r RouterConfig) error {
	if r.DedupeWindow < 0 {
		return fmt.Errorf("router.dedupe_window must be >= 0, got %d", r.DedupeWindow)
	}
	return nil
}

func validateSmoothing(name string, s SmoothingConfig) []string {
	var errs []string
	if s.Divisor <= 0 {
		errs = append(errs, fmt.Sprintf("sync.%s.divisor must be positive", name))
	}
	if s.MinSmooth <= 0 || s.MaxSmooth < s.MinSmooth {
		errs = append(errs, fmt.Sprintf("sync.%s smoothing range [%g, %g] is invalid", name, s.MinSmooth, s.MaxSmooth))
	}
	if s.FloorSpeed < 0 || s.Epsilon < 0 || s.SnapDistance < 0 {
		errs = append(errs, fmt.Sprintf("sync.%s speeds and distances must not be negative", name))
	}
	return errs
}

func validateSync(s SyncConfig) error {
	var errs []string
	if s.GraceUpdates < 0 {
		errs = append(errs, fmt.Sprintf("sync.grace_updates must be >= 0, got %d", s.GraceUpdates))
	}
	errs = append(errs, validateSmoothing("body", s.Body)...)
	errs = append(errs, validateSmoothing("hand", s.Hand)...)
	return join(errs)
}

func validateInput(i InputConfig) error {
	var errs []string
	if i.SendRate <= 0 {
		errs = append(errs, fmt.Sprintf("input.send_rate must be positive, got %g", i.SendRate))
	}
	if i.PositionThreshold < 0 || i.RotationThresholdDeg < 0 {
		errs = append(errs, "input thresholds must not be negative")
	}
	if i.TeleportCooldown < 0 {
		errs = append(errs, "input.teleport_cooldown must not be negative")
	}
	return join(errs)
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if t.LowWaterMark >= t.HighWaterMark {
		errs = append(errs, fmt.Sprintf("transport.low_water_mark (%d) must be below transport.high_water_mark (%d)", t.LowWaterMark, t.HighWaterMark))
	}
	if t.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_buffer must be >= 1, got %d", t.SendBuffer))
	}
	for _, s := range t.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			errs = append(errs, fmt.Sprintf("transport.stun_servers entry %q is not a stun: URL", s))
		}
	}
	return join(errs)
}

func validateLog(l LogConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("log.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	if l.File != "" && (l.MaxSizeMB < 1 || l.MaxBackups < 0) {
		return fmt.Errorf("log.max_size_mb must be >= 1 and log.max_backups >= 0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lobby.url", "ws://localhost:8080/ws")
	v.SetDefault("lobby.listen", ":8080")
	v.SetDefault("lobby.metrics_path", "/metrics")
	v.SetDefault("lobby.game_version", "dev")

	sess := session.DefaultConfig()
	v.SetDefault("session.max_members", 6)
	v.SetDefault("session.initial_delay", sess.InitialDelay)
	v.SetDefault("session.reconnect_delay", sess.ReconnectDelay)
	v.SetDefault("session.accept_window", sess.AcceptWindow)
	v.SetDefault("session.retry_interval", sess.RetryInterval)
	v.SetDefault("session.verify_delay", sess.VerifyDelay)
	v.SetDefault("session.max_attempts", sess.MaxAttempts)
	v.SetDefault("session.drain_batch", sess.DrainBatch)
	v.SetDefault("session.lobby_timeout", sess.LobbyTimeout)

	v.SetDefault("router.relay_broadcast", true)
	v.SetDefault("router.dedupe_window", 256)

	syn := remote.DefaultConfig()
	v.SetDefault("sync.grace_updates", syn.GraceUpdates)
	for name, p := range map[string]remote.Params{"body": syn.Body, "hand": syn.Hand} {
		v.SetDefault("sync."+name+".divisor", p.Divisor)
		v.SetDefault("sync."+name+".min_smooth", p.MinSmooth)
		v.SetDefault("sync."+name+".max_smooth", p.MaxSmooth)
		v.SetDefault("sync."+name+".floor_speed", p.FloorSpeed)
		v.SetDefault("sync."+name+".epsilon", p.Epsilon)
		v.SetDefault("sync."+name+".snap_distance", p.SnapDistance)
	}

	in := localplayer.DefaultConfig()
	v.SetDefault("input.send_rate", in.SendRate)
	v.SetDefault("input.position_threshold", in.PositionThreshold)
	v.SetDefault("input.rotation_threshold_deg", in.RotationThresholdDeg)
	v.SetDefault("input.teleport_cooldown", in.TeleportCooldown)

	tr := transport.DefaultConfig()
	v.SetDefault("transport.stun_servers", tr.STUNServers)
	v.SetDefault("transport.high_water_mark", tr.HighWaterMark)
	v.SetDefault("transport.low_water_mark", tr.LowWaterMark)
	v.SetDefault("transport.send_buffer", tr.SendBuffer)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	g := game.DefaultConfig()
	v.SetDefault("game.damage_scale", g.Scale)
	v.SetDefault("game.other_scale", g.OtherScale)
	v.SetDefault("game.damage_by_type", g.ByType)
}
