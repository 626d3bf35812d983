// Package localplayer turns the local participant's pose into outgoing
// snapshots at a bounded rate.
package localplayer

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/protocol"
)

// Pose is the local participant's current body and hand placement.
type Pose struct {
	Position  geom.Vec3
	Rotation  geom.Quat
	LeftHand  geom.Vec3
	RightHand geom.Vec3
}

// Source supplies the local pose. It is read on the tick goroutine.
type Source interface {
	Pose() Pose
}

// Config controls how often and when a snapshot is produced.
type Config struct {
	SendRate             float64 // snapshots per second at most
	PositionThreshold    float32 // minimum body or hand movement
	RotationThresholdDeg float32
	TeleportCooldown     time.Duration // snapshots in this window after Teleport are teleports
}

func DefaultConfig() Config {
	return Config{
		SendRate:             30,
		PositionThreshold:    0.05,
		RotationThresholdDeg: 0.5,
		TeleportCooldown:     time.Second,
	}
}

// Sampler decides when the local pose is worth sending.
type Sampler struct {
	cfg     Config
	src     Source
	limiter *rate.Limiter

	last     Pose
	sent     bool
	teleport time.Time // end of the teleport cooldown
}

func New(cfg Config, src Source) *Sampler {
	return &Sampler{
		cfg:     cfg,
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), 1),
	}
}

// Teleport marks the local participant as having jumped. Snapshots during
// the following cooldown carry the teleport flag so remotes snap instead of
// smoothing across the jump.
func (s *Sampler) Teleport(now time.Time) {
	s.teleport = now.Add(s.cfg.TeleportCooldown)
}

// Teleporting reports whether now falls in the teleport cooldown.
func (s *Sampler) Teleporting(now time.Time) bool {
	return now.Before(s.teleport)
}

// Reset forgets the last sent pose so the next sample is always sent.
func (s *Sampler) Reset() {
	s.sent = false
	s.last = Pose{}
}

// Sample returns a snapshot for self when the pose changed enough and the
// send rate allows it.
func (s *Sampler) Sample(now time.Time, self protocol.PeerID) (protocol.PlayerSnapshot, bool) {
	pose := s.src.Pose()
	teleport := s.Teleporting(now)
	if !teleport && s.sent && !s.changed(pose) {
		return protocol.PlayerSnapshot{}, false
	}
	if !s.limiter.AllowN(now, 1) {
		return protocol.PlayerSnapshot{}, false
	}

	s.last = pose
	s.sent = true
	return protocol.PlayerSnapshot{
		EntityID:   self,
		Timestamp:  now.UnixMilli(),
		Position:   pose.Position,
		Rotation:   pose.Rotation,
		LeftHand:   pose.LeftHand,
		RightHand:  pose.RightHand,
		IsTeleport: teleport,
	}, true
}

func (s *Sampler) changed(p Pose) bool {
	th := s.cfg.PositionThreshold * s.cfg.PositionThreshold
	switch {
	case p.Position.Sub(s.last.Position).SqrMagnitude() > th:
		return true
	case p.LeftHand.Sub(s.last.LeftHand).SqrMagnitude() > th:
		return true
	case p.RightHand.Sub(s.last.RightHand).SqrMagnitude() > th:
		return true
	}
	return p.Rotation.Angle(s.last.Rotation) > s.cfg.RotationThresholdDeg
}
