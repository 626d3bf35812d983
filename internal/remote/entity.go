package remote

import (
	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/protocol"
)

// Transform is the pose handed to the visual layer each tick.
type Transform struct {
	Position  geom.Vec3
	Rotation  geom.Quat
	LeftHand  geom.Vec3
	RightHand geom.Vec3
}

// Entity is the synchronizer's state for one remote participant.
type Entity struct {
	ID        protocol.PeerID
	FactoryID string

	Body      Track
	LeftHand  Track
	RightHand Track
	Rotation  geom.Quat

	// Target is the latest applied snapshot. HasTarget is false until the
	// first one arrives; a zero position is a legitimate target.
	Target    protocol.PlayerSnapshot
	HasTarget bool

	// Grace counts the remaining updates forced into teleport mode.
	Grace int
	// suppressed skips smoothing on the tick after a teleport.
	suppressed bool

	Tag  string
	Dead bool
}

func newEntity(id protocol.PeerID, factoryID string, cfg Config) *Entity {
	e := &Entity{
		ID:        id,
		FactoryID: factoryID,
		Body:      newTrack(cfg.Body),
		LeftHand:  newTrack(cfg.Hand),
		RightHand: newTrack(cfg.Hand),
		Rotation:  geom.Identity,
		Grace:     cfg.GraceUpdates,
	}
	// start at the origin in teleport mode
	e.Body.Teleport(geom.Vec3{})
	e.LeftHand.Teleport(geom.Vec3{})
	e.RightHand.Teleport(geom.Vec3{})
	e.suppressed = true
	return e
}

// Apply records a snapshot. Teleports, and every update during the grace
// period, place the entity directly; other updates become smoothing targets.
// It reports whether the snapshot was used.
func (e *Entity) Apply(s protocol.PlayerSnapshot) bool {
	teleport := s.IsTeleport || e.Grace > 0
	if !teleport && e.HasTarget && s.Timestamp < e.Target.Timestamp {
		return false
	}
	if e.Grace > 0 {
		e.Grace--
	}

	e.Target = s
	e.HasTarget = true
	e.Rotation = s.Rotation
	e.Dead = false

	if teleport {
		e.Body.Teleport(s.Position)
		e.LeftHand.Teleport(s.LeftHand)
		e.RightHand.Teleport(s.RightHand)
		e.suppressed = true
		return true
	}
	e.Body.Target = s.Position
	e.LeftHand.Target = s.LeftHand
	e.RightHand.Target = s.RightHand
	return true
}

// Tick advances smoothing by dt seconds.
func (e *Entity) Tick(dt float32) {
	if e.suppressed {
		e.suppressed = false
		return
	}
	e.Body.Step(dt)
	e.LeftHand.Step(dt)
	e.RightHand.Step(dt)
}

func (e *Entity) Transform() Transform {
	return Transform{
		Position:  e.Body.Position,
		Rotation:  e.Rotation,
		LeftHand:  e.LeftHand.Position,
		RightHand: e.RightHand.Position,
	}
}
