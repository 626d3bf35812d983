// Package game holds the packet handlers for game rules: world seeding,
// remote player creation, chat, damage, force, death and teleport. The game
// itself sits behind small collaborator interfaces.
package game

import (
	"strings"

	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/remote"
)

// Net is the session side the handlers send through.
type Net interface {
	Self() protocol.PeerID
	IsOwner() bool
	NewWriter(target protocol.PeerID, typ protocol.PacketType) *protocol.Writer
	SendTo(id protocol.PeerID, msg []byte) error
	SendToOwner(msg []byte) error
	Broadcast(msg []byte)
}

// Entities is the remote synchronizer as seen by the handlers.
type Entities interface {
	Create(id protocol.PeerID, factoryID string) *remote.Entity
	Entity(id protocol.PeerID) (*remote.Entity, bool)
	Apply(snap protocol.PlayerSnapshot)
	SetTag(id protocol.PeerID, text string)
	MarkDead(id protocol.PeerID)
}

// Hazard is the state of the rising hazard floor, copied on teleport so the
// arriving player sees the same level.
type Hazard struct {
	RelativeHeight float32
	Active         bool
	Speed          float32
	SpeedMult      float32
}

// World is the shared level.
type World interface {
	Seed() int32
	LoadSeed(seed int32)
	SetState(clock float32, weather string)
	// Hazard returns the hazard floor state, if the level has one.
	Hazard() (Hazard, bool)
	LoadHazard(h Hazard)
	SpawnDrops(at geom.Vec3, items map[string]uint8)
}

// Player is the local participant's avatar.
type Player interface {
	FactoryID() string
	Position() geom.Vec3
	Damage(amount float32, kind string)
	AddForce(force geom.Vec3, source string)
	Teleport(pos geom.Vec3)
}

// Inventory is the local participant's items.
type Inventory interface {
	Items() map[string]uint8
	Add(item string, count uint8)
}

// Console shows chat lines and notices.
type Console interface {
	Print(from protocol.PeerID, text string)
}

// Item names with special handling.
const (
	NoItem       = "None"
	HammerItem   = "Item_Hammer"
	ArtifactMark = "Artifact"
)

// Config scales incoming damage. Damage is amount * Scale * ByType[kind],
// with OtherScale standing in for kinds not listed. ByType keys are lower
// case.
type Config struct {
	Scale      float32
	OtherScale float32
	ByType     map[string]float32
}

func DefaultConfig() Config {
	return Config{
		Scale:      1,
		OtherScale: 1,
		ByType: map[string]float32{
			"hammer":         1,
			"rebar":          1,
			"returnrebar":    1,
			"rebarexplosion": 1,
			"explosion":      1,
			"piton":          1,
			"flare":          1,
			"ice":            1,
		},
	}
}

// DamageFor returns the damage applied for an incoming hit.
func (c Config) DamageFor(amount float32, kind string) float32 {
	mult, ok := c.ByType[strings.ToLower(kind)]
	if !ok {
		mult = c.OtherScale
	}
	return amount * c.Scale * mult
}

// Deps bundles the collaborators Rules works with.
type Deps struct {
	Net       Net
	Entities  Entities
	World     World
	Player    Player
	Inventory Inventory
	Console   Console

	// OnInitialized runs when the world seed from the owner has been applied.
	OnInitialized func()
	// OnTeleported runs after the local player was moved by a teleport reply.
	OnTeleported func()
}
