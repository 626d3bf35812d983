package game

import (
	"fmt"
	"strings"

	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/router"
	"github.com/1ureka/meshlobby/internal/util"
)

// Rules implements every game packet handler and the matching senders.
// Like the router, it is used from the tick goroutine only.
type Rules struct {
	cfg Config
	Deps
}

func New(cfg Config, deps Deps) *Rules {
	return &Rules{cfg: cfg, Deps: deps}
}

// Register adds every game handler to reg.
func (g *Rules) Register(reg *router.Registry) *router.Registry {
	return reg.
		Add(protocol.TypeWorldInitRequest, g.onWorldInitRequest).
		Add(protocol.TypeWorldInitData, g.onWorldInitData).
		Add(protocol.TypePlayerDataUpdate, g.onPlayerDataUpdate).
		Add(protocol.TypeBroadcastMessage, g.onBroadcastMessage).
		Add(protocol.TypeWorldStateSync, g.onWorldStateSync).
		Add(protocol.TypePlayerDamage, g.onPlayerDamage).
		Add(protocol.TypePlayerAddForce, g.onPlayerAddForce).
		Add(protocol.TypePlayerDeath, g.onPlayerDeath).
		Add(protocol.TypePlayerCreateRequest, g.onPlayerCreateRequest).
		Add(protocol.TypePlayerCreateResponse, g.onPlayerCreateResponse).
		Add(protocol.TypePlayerTeleportRequest, g.onPlayerTeleportRequest).
		Add(protocol.TypePlayerTeleportRespond, g.onPlayerTeleportRespond)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (g *Rules) onWorldInitRequest(sender protocol.PeerID, _ *protocol.Reader) {
	if !g.Net.IsOwner() {
		util.LogWarning("world init request from %s, but this peer is not the owner", sender)
		return
	}
	w := g.Net.NewWriter(sender, protocol.TypeWorldInitData)
	defer w.Release()
	w.PutI32(g.World.Seed())
	g.send(sender, w)
	util.LogInfo("sent world seed to %s", sender)
}

func (g *Rules) onWorldInitData(sender protocol.PeerID, r *protocol.Reader) {
	seed := r.I32()
	if r.Err() != nil {
		return
	}
	// same seed means this peer already loaded the world and just reconnected
	if seed != g.World.Seed() {
		util.LogInfo("loading world with seed %d", seed)
		g.World.LoadSeed(seed)
	}
	if g.OnInitialized != nil {
		g.OnInitialized()
	}
}

func (g *Rules) onPlayerDataUpdate(_ protocol.PeerID, r *protocol.Reader) {
	snap, err := protocol.DecodeSnapshot(r)
	if err != nil {
		return
	}
	// our own broadcast relayed back
	if snap.EntityID == g.Net.Self() {
		return
	}
	g.Entities.Apply(snap)
}

func (g *Rules) onBroadcastMessage(sender protocol.PeerID, r *protocol.Reader) {
	text := r.Text()
	if r.Err() != nil {
		return
	}
	g.Console.Print(sender, text)
	g.Entities.SetTag(sender, text)
}

func (g *Rules) onWorldStateSync(sender protocol.PeerID, r *protocol.Reader) {
	clock := r.F32()
	weather := r.Text()
	if r.Err() != nil {
		return
	}
	g.World.SetState(clock, weather)
}

func (g *Rules) onPlayerDamage(sender protocol.PeerID, r *protocol.Reader) {
	amount := r.F32()
	kind := r.Text()
	if r.Err() != nil {
		return
	}
	g.Player.Damage(g.cfg.DamageFor(amount, kind), kind)
}

func (g *Rules) onPlayerAddForce(sender protocol.PeerID, r *protocol.Reader) {
	force := r.Vec3()
	source := r.Text()
	if r.Err() != nil {
		return
	}
	g.Player.AddForce(force, source)
}

func (g *Rules) onPlayerDeath(sender protocol.PeerID, r *protocol.Reader) {
	kind := r.Text()
	items := r.StringByteMap()
	if r.Err() != nil {
		return
	}
	g.Console.Print(protocol.Special, fmt.Sprintf("%s died (%s)", sender, kind))

	e, ok := g.Entities.Entity(sender)
	if !ok {
		return
	}
	drops := make(map[string]uint8, len(items))
	for item, n := range items {
		if item == NoItem || item == HammerItem || n == 0 {
			continue
		}
		drops[item] = n
	}
	if len(drops) > 0 {
		g.World.SpawnDrops(e.Body.Position, drops)
	}
	g.Entities.MarkDead(sender)
}

func (g *Rules) onPlayerCreateRequest(sender protocol.PeerID, _ *protocol.Reader) {
	w := g.Net.NewWriter(sender, protocol.TypePlayerCreateResponse)
	defer w.Release()
	w.PutString(g.Player.FactoryID())
	g.send(sender, w)
}

func (g *Rules) onPlayerCreateResponse(sender protocol.PeerID, r *protocol.Reader) {
	factoryID := r.Text()
	if r.Err() != nil {
		return
	}
	g.Entities.Create(sender, factoryID)
}

func (g *Rules) onPlayerTeleportRequest(sender protocol.PeerID, _ *protocol.Reader) {
	w := g.Net.NewWriter(sender, protocol.TypePlayerTeleportRespond)
	defer w.Release()
	w.PutVec3(g.Player.Position())
	w.PutStringByteMap(g.Inventory.Items())
	if h, ok := g.World.Hazard(); ok {
		w.PutBool(true)
		w.PutF32(h.RelativeHeight)
		w.PutBool(h.Active)
		w.PutF32(h.Speed)
		w.PutF32(h.SpeedMult)
	} else {
		w.PutBool(false)
	}
	g.send(sender, w)
}

func (g *Rules) onPlayerTeleportRespond(sender protocol.PeerID, r *protocol.Reader) {
	pos := r.Vec3()
	remoteItems := r.StringByteMap()
	var (
		hazard    Hazard
		hasHazard = r.Bool()
	)
	if hasHazard {
		hazard.RelativeHeight = r.F32()
		hazard.Active = r.Bool()
		hazard.Speed = r.F32()
		hazard.SpeedMult = r.F32()
	}
	if r.Err() != nil {
		return
	}

	for item, n := range SetDifference(remoteItems, g.Inventory.Items()) {
		if item == NoItem || strings.Contains(item, ArtifactMark) {
			continue
		}
		g.Inventory.Add(item, n)
	}

	// the jump must read as a teleport on every remote before the move lands
	if g.OnTeleported != nil {
		g.OnTeleported()
	}
	g.Player.Teleport(pos)
	if hasHazard {
		g.World.LoadHazard(hazard)
	}
	util.LogInfo("teleported to %s at (%.1f, %.1f, %.1f)", sender, pos.X, pos.Y, pos.Z)
}

func (g *Rules) send(target protocol.PeerID, w *protocol.Writer) {
	if err := g.Net.SendTo(target, w.Bytes()); err != nil {
		util.LogWarning("%s to %s: %v", w.Header().Type, target, err)
	}
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// RequestWorldInit asks the session owner for the world seed.
func (g *Rules) RequestWorldInit() error {
	w := g.Net.NewWriter(protocol.Special, protocol.TypeWorldInitRequest)
	defer w.Release()
	return g.Net.SendToOwner(w.Bytes())
}

// RequestPlayer asks id for its avatar factory so it can be spawned here.
func (g *Rules) RequestPlayer(id protocol.PeerID) error {
	w := g.Net.NewWriter(id, protocol.TypePlayerCreateRequest)
	defer w.Release()
	return g.Net.SendTo(id, w.Bytes())
}

// SendSnapshot broadcasts the local pose.
func (g *Rules) SendSnapshot(snap protocol.PlayerSnapshot) {
	w := g.Net.NewWriter(protocol.Broadcast, protocol.TypePlayerDataUpdate)
	defer w.Release()
	snap.Encode(w)
	g.Net.Broadcast(w.Bytes())
}

// Say broadcasts a chat line. It also becomes the local name tag remotely.
func (g *Rules) Say(text string) {
	w := g.Net.NewWriter(protocol.Broadcast, protocol.TypeBroadcastMessage)
	defer w.Release()
	w.PutString(text)
	g.Net.Broadcast(w.Bytes())
}

// SyncWorldState broadcasts the world clock and weather.
func (g *Rules) SyncWorldState(clock float32, weather string) {
	w := g.Net.NewWriter(protocol.Broadcast, protocol.TypeWorldStateSync)
	defer w.Release()
	w.PutF32(clock)
	w.PutString(weather)
	g.Net.Broadcast(w.Bytes())
}

// Hit deals damage to a remote player.
func (g *Rules) Hit(target protocol.PeerID, amount float32, kind string) error {
	w := g.Net.NewWriter(target, protocol.TypePlayerDamage)
	defer w.Release()
	w.PutF32(amount)
	w.PutString(kind)
	return g.Net.SendTo(target, w.Bytes())
}

// Push applies a force to a remote player.
func (g *Rules) Push(target protocol.PeerID, force geom.Vec3, source string) error {
	w := g.Net.NewWriter(target, protocol.TypePlayerAddForce)
	defer w.Release()
	w.PutVec3(force)
	w.PutString(source)
	return g.Net.SendTo(target, w.Bytes())
}

// Died announces the local player's death and the items it drops.
func (g *Rules) Died(kind string) {
	w := g.Net.NewWriter(protocol.Broadcast, protocol.TypePlayerDeath)
	defer w.Release()
	w.PutString(kind)
	w.PutStringByteMap(g.Inventory.Items())
	g.Net.Broadcast(w.Bytes())
}

// RequestTeleport asks target for its position so the local player can join
// it there.
func (g *Rules) RequestTeleport(target protocol.PeerID) error {
	w := g.Net.NewWriter(target, protocol.TypePlayerTeleportRequest)
	defer w.Release()
	return g.Net.SendTo(target, w.Bytes())
}
