// Package core wires the session manager, packet router, remote entity
// synchronizer, local snapshot sampler and game rules into the single object
// a host program drives once per frame.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/meshlobby/internal/bufpool"
	"github.com/1ureka/meshlobby/internal/game"
	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/localplayer"
	"github.com/1ureka/meshlobby/internal/lobby"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/remote"
	"github.com/1ureka/meshlobby/internal/router"
	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/util"
)

var (
	ErrNotInitialized = errors.New("world not initialized yet")
	ErrNoMatch        = errors.New("no participant matches")
	ErrAmbiguous      = errors.New("more than one participant matches")
)

// Config gathers the tuning of every part.
type Config struct {
	Session     session.Config
	Router      router.Options
	Sync        remote.Config
	Input       localplayer.Config
	Game        game.Config
	MaxMembers  int
	GameVersion string
	// InitDelay is the wait before the first world seed request after
	// joining; InitRetry is the wait between requests.
	InitDelay time.Duration
	InitRetry time.Duration
}

func DefaultConfig() Config {
	return Config{
		Session:     session.DefaultConfig(),
		Router:      router.Options{RelayBroadcast: true, DedupeWindow: 256},
		Sync:        remote.DefaultConfig(),
		Input:       localplayer.DefaultConfig(),
		Game:        game.DefaultConfig(),
		MaxMembers:  lobby.DefaultMaxMembers,
		GameVersion: "dev",
		InitDelay:   time.Second,
		InitRetry:   4 * time.Second,
	}
}

// Deps are the host's collaborators. Visuals and Pose are optional: without
// Pose the local player's position is sent with an identity rotation.
type Deps struct {
	Lobby     session.Lobby
	Transport session.Transport
	Pool      *bufpool.Pool
	Visuals   remote.Visuals
	Pose      localplayer.Source
	World     game.World
	Player    game.Player
	Inventory game.Inventory
	Console   game.Console
}

// Core is the host-facing façade. All methods must be called from the tick
// goroutine.
type Core struct {
	cfg  Config
	deps Deps

	mgr     *session.Manager
	router  *router.Router
	sync    *remote.Synchronizer
	sampler *localplayer.Sampler
	rules   *game.Rules

	now         time.Time
	initialized bool
	initWait    time.Duration // countdown to the next seed request
	requesting  bool
}

// New builds a core. It fails only when the packet handler table cannot be
// built.
func New(ctx context.Context, cfg Config, deps Deps) (*Core, error) {
	if deps.Pose == nil {
		deps.Pose = playerPose{deps.Player}
	}
	c := &Core{cfg: cfg, deps: deps, now: time.Now()}

	c.mgr = session.New(ctx, cfg.Session, deps.Lobby, deps.Transport, deps.Pool)
	c.sync = remote.New(cfg.Sync, deps.Visuals)
	c.sampler = localplayer.New(cfg.Input, deps.Pose)
	c.rules = game.New(cfg.Game, game.Deps{
		Net:           c.mgr,
		Entities:      c.sync,
		World:         deps.World,
		Player:        deps.Player,
		Inventory:     deps.Inventory,
		Console:       deps.Console,
		OnInitialized: c.onInitialized,
		OnTeleported:  func() { c.sampler.Teleport(c.now) },
	})

	table, err := c.rules.Register(router.NewRegistry()).Build()
	if err != nil {
		return nil, fmt.Errorf("build packet table: %w", err)
	}
	c.router = router.New(table, c.mgr, cfg.Router)
	c.mgr.SetDispatcher(c.router)
	c.mgr.Subscribe(c.onEvent)
	return c, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (c *Core) Self() protocol.PeerID              { return c.mgr.Self() }
func (c *Core) InSession() bool                    { return c.mgr.InSession() }
func (c *Core) Initialized() bool                  { return c.initialized }
func (c *Core) State() session.State               { return c.mgr.State() }
func (c *Core) LobbyID() session.LobbyID           { return c.mgr.LobbyID() }
func (c *Core) IsOwner() bool                      { return c.mgr.IsOwner() }
func (c *Core) Members() []protocol.PeerID         { return c.mgr.Members() }
func (c *Core) Connected() []protocol.PeerID       { return c.mgr.Connected() }
func (c *Core) Rules() *game.Rules                 { return c.rules }
func (c *Core) Synchronizer() *remote.Synchronizer { return c.sync }

// PeerState returns the connection state toward id.
func (c *Core) PeerState(id protocol.PeerID) session.ConnState { return c.mgr.PeerState(id) }

// Subscribe forwards manager events to fn, after the core has handled them.
func (c *Core) Subscribe(fn func(session.Event)) { c.mgr.Subscribe(fn) }

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// CreateSession opens a new session with this process as owner. The world
// is already loaded here, so the core is initialized as soon as the lobby
// confirms.
func (c *Core) CreateSession(name string, cb func(session.LobbyID, error)) error {
	data := map[string]string{lobby.KeyGameVersion: c.cfg.GameVersion}
	return c.mgr.CreateSession(name, c.cfg.MaxMembers, data, func(id session.LobbyID, err error) {
		if err == nil {
			c.initialized = true
			util.LogInfo("hosting world with seed %d", c.deps.World.Seed())
		}
		if cb != nil {
			cb(id, err)
		}
	})
}

// JoinSession enters an existing session and starts asking its owner for
// the world seed.
func (c *Core) JoinSession(id session.LobbyID, cb func(session.LobbyID, error)) error {
	return c.mgr.JoinSession(id, func(id session.LobbyID, err error) {
		if err == nil {
			c.requesting = true
			c.initWait = c.cfg.InitDelay
		}
		if cb != nil {
			cb(id, err)
		}
	})
}

// Leave ends the session and forgets every remote participant.
func (c *Core) Leave() {
	c.mgr.Leave()
	c.sync.Reset()
	c.sampler.Reset()
	c.initialized = false
	c.requesting = false
}

// ResetScene is called when the host program unloads its level. Nothing in
// the session survives a scene change.
func (c *Core) ResetScene() {
	if c.mgr.State() != session.NotJoined {
		util.LogInfo("scene reset, leaving session")
	}
	c.Leave()
}

// Close leaves the session and shuts the transport down.
func (c *Core) Close() error {
	c.Leave()
	return c.mgr.Close()
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Update advances everything by dt: connections and inbound dispatch, the
// seed handshake, remote smoothing, then the local snapshot.
func (c *Core) Update(dt time.Duration) {
	c.now = c.now.Add(dt)
	c.mgr.Update(dt)
	c.handshake(dt)
	c.sync.Tick(dt)

	if !c.InSession() || !c.initialized || !c.mgr.HasConnections() {
		return
	}
	if snap, ok := c.sampler.Sample(c.now, c.Self()); ok {
		c.rules.SendSnapshot(snap)
	}
}

func (c *Core) handshake(dt time.Duration) {
	if !c.requesting {
		return
	}
	if !c.InSession() || c.initialized {
		c.requesting = false
		return
	}
	c.initWait -= dt
	if c.initWait > 0 {
		return
	}
	c.initWait = c.cfg.InitRetry
	if err := c.rules.RequestWorldInit(); err != nil {
		util.LogDebug("world init request: %v", err)
		return
	}
	util.LogInfo("requested world seed from owner %s", c.mgr.Owner())
}

func (c *Core) onInitialized() {
	if !c.initialized {
		util.LogSuccess("world initialized")
	}
	c.initialized = true
	c.requesting = false
}

func (c *Core) onEvent(ev session.Event) {
	switch ev.Kind {
	case session.PeerConnected:
		if err := c.rules.RequestPlayer(ev.Peer); err != nil {
			util.LogWarning("request player from %s: %v", ev.Peer, err)
		}
	case session.PeerDisconnected:
		util.LogInfo("participant %s disconnected (%s)", ev.Peer, ev.Reason)
		c.sync.Remove(ev.Peer)
	case session.OwnerChanged:
		// an owner without a world has nobody left to ask for one
		if ev.Peer == c.Self() && !c.initialized && c.InSession() {
			util.LogWarning("became owner before the world seed arrived, using local seed %d", c.deps.World.Seed())
			c.onInitialized()
		}
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Say sends a chat line to every participant.
func (c *Core) Say(text string) error {
	if !c.InSession() {
		return session.ErrNotInSession
	}
	c.rules.Say(text)
	return nil
}

// TeleportTo asks the participant whose id ends in suffix (hex) for its
// position and moves the local player there when it answers.
func (c *Core) TeleportTo(suffix string) (protocol.PeerID, error) {
	if !c.InSession() {
		return 0, session.ErrNotInSession
	}
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	ids := game.MatchSuffix(c.mgr.Connected(), suffix)
	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("%w %q", ErrNoMatch, suffix)
	case 1:
	default:
		return 0, fmt.Errorf("%w %q: %v", ErrAmbiguous, suffix, ids)
	}
	return ids[0], c.rules.RequestTeleport(ids[0])
}

// playerPose reads a pose from a game.Player that has no rotation or hands.
type playerPose struct{ p game.Player }

func (pp playerPose) Pose() localplayer.Pose {
	pos := pp.p.Position()
	return localplayer.Pose{
		Position:  pos,
		Rotation:  geom.Identity,
		LeftHand:  pos,
		RightHand: pos,
	}
}
