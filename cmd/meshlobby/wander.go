package main

import (
	"math"

	"github.com/1ureka/meshlobby/internal/game"
	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/localplayer"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/remote"
	"github.com/1ureka/meshlobby/internal/util"
)

// wanderer walks the headless player around a circle. It is sampled once
// per tick, and each sample advances the walk by one tick.
type wanderer struct {
	player *game.HeadlessPlayer
	angle  float64
	last   geom.Vec3
}

const (
	wanderRadius = 3.0
	wanderStep   = 2 * math.Pi / (tickRate * 8) // one lap every 8 seconds
)

func newWanderer(p *game.HeadlessPlayer) *wanderer {
	return &wanderer{player: p}
}

func (w *wanderer) Pose() localplayer.Pose {
	w.angle += wanderStep
	offset := geom.Vec3{
		X: float32(wanderRadius * math.Cos(w.angle)),
		Z: float32(wanderRadius * math.Sin(w.angle)),
	}
	// move relative to wherever the player is now, so a teleport carries the
	// circle with it
	pos := w.player.Position().Add(offset.Sub(w.last))
	w.last = offset
	w.player.Move(pos)

	yaw := float32(-w.angle)
	rot := geom.Quat{Y: float32(math.Sin(float64(yaw) / 2)), W: float32(math.Cos(float64(yaw) / 2))}
	side := geom.Vec3{X: float32(0.4 * math.Cos(w.angle+math.Pi/2)), Z: float32(0.4 * math.Sin(w.angle+math.Pi/2))}
	return localplayer.Pose{
		Position:  pos,
		Rotation:  rot,
		LeftHand:  pos.Add(side).Add(geom.Vec3{Y: 1}),
		RightHand: pos.Sub(side).Add(geom.Vec3{Y: 1}),
	}
}

// logVisuals reports remote avatars through the logger.
type logVisuals struct{}

func (logVisuals) Spawn(id protocol.PeerID, factoryID string) {
	util.LogInfo("spawned %s avatar for %s", factoryID, id)
}

func (logVisuals) Despawn(id protocol.PeerID) {
	util.LogInfo("removed avatar for %s", id)
}

func (logVisuals) SetTransform(protocol.PeerID, remote.Transform) {}

func (logVisuals) SetTag(id protocol.PeerID, text string) {
	util.LogDebug("%s tag: %s", id, text)
}

func (logVisuals) SetDead(id protocol.PeerID, dead bool) {
	if dead {
		util.LogInfo("%s died", id)
	}
}
