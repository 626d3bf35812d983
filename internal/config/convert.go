package config

import (
	"time"

	"github.com/1ureka/meshlobby/internal/core"
	"github.com/1ureka/meshlobby/internal/game"
	"github.com/1ureka/meshlobby/internal/localplayer"
	"github.com/1ureka/meshlobby/internal/remote"
	"github.com/1ureka/meshlobby/internal/router"
	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/transport"
)

func (s SessionConfig) Manager() session.Config {
	return session.Config{
		InitialDelay:   s.InitialDelay,
		ReconnectDelay: s.ReconnectDelay,
		AcceptWindow:   s.AcceptWindow,
		RetryInterval:  s.RetryInterval,
		VerifyDelay:    s.VerifyDelay,
		MaxAttempts:    s.MaxAttempts,
		DrainBatch:     s.DrainBatch,
		LobbyTimeout:   s.LobbyTimeout,
	}
}

func (r RouterConfig) Options() router.Options {
	return router.Options{RelayBroadcast: r.RelayBroadcast, DedupeWindow: r.DedupeWindow}
}

func (s SmoothingConfig) Params() remote.Params {
	return remote.Params(s)
}

func (s SyncConfig) Synchronizer() remote.Config {
	return remote.Config{GraceUpdates: s.GraceUpdates, Body: s.Body.Params(), Hand: s.Hand.Params()}
}

func (i InputConfig) Sampler() localplayer.Config {
	return localplayer.Config(i)
}

func (t TransportConfig) WebRTC() transport.Config {
	return transport.Config{
		STUNServers:   t.STUNServers,
		HighWaterMark: t.HighWaterMark,
		LowWaterMark:  t.LowWaterMark,
		SendBuffer:    t.SendBuffer,
	}
}

func (g GameConfig) Rules() game.Config {
	return game.Config{Scale: g.DamageScale, OtherScale: g.OtherScale, ByType: g.DamageByType}
}

// Core assembles the tuning a core.Core needs.
func (c Config) Core() core.Config {
	return core.Config{
		Session:     c.Session.Manager(),
		Router:      c.Router.Options(),
		Sync:        c.Sync.Synchronizer(),
		Input:       c.Input.Sampler(),
		Game:        c.Game.Rules(),
		MaxMembers:  c.Session.MaxMembers,
		GameVersion: c.Lobby.GameVersion,
		InitDelay:   time.Second,
		InitRetry:   4 * time.Second,
	}
}
