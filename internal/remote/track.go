package remote

import "github.com/1ureka/meshlobby/internal/geom"

// Params tunes smoothing for one kind of tracked point.
type Params struct {
	Divisor      float32 // smoothing time is distance/Divisor ...
	MinSmooth    float32 // ... clamped to [MinSmooth, MaxSmooth] seconds
	MaxSmooth    float32
	FloorSpeed   float32 // minimum speed while farther than Epsilon
	Epsilon      float32
	SnapDistance float32 // corrections longer than this jump; zero disables
}

// BodyParams returns the smoothing used for a participant's body.
func BodyParams() Params {
	return Params{Divisor: 20, MinSmooth: 0.05, MaxSmooth: 0.2, FloorSpeed: 2, Epsilon: 0.05, SnapDistance: 50}
}

// HandParams returns the smoothing used for hands.
func HandParams() Params {
	return Params{Divisor: 10, MinSmooth: 0.05, MaxSmooth: 0.2, FloorSpeed: 0.5, Epsilon: 0.05}
}

// Track smooths one point toward its latest target.
type Track struct {
	Position geom.Vec3
	Velocity geom.Vec3
	Target   geom.Vec3
	params   Params
}

func newTrack(p Params) Track { return Track{params: p} }

// Teleport places the point on p with no residual motion.
func (t *Track) Teleport(p geom.Vec3) {
	t.Position = p
	t.Target = p
	t.Velocity = geom.Vec3{}
}

// SmoothTime returns the spring time constant for a remaining distance.
func (t *Track) SmoothTime(distance float32) float32 {
	return geom.Clamp(distance/t.params.Divisor, t.params.MinSmooth, t.params.MaxSmooth)
}

// Step advances the point by dt seconds.
func (t *Track) Step(dt float32) {
	if dt <= 0 {
		return
	}
	d := t.Position.Distance(t.Target)
	if d == 0 {
		t.Velocity = geom.Vec3{}
		return
	}
	if t.params.SnapDistance > 0 && d > t.params.SnapDistance {
		t.Teleport(t.Target)
		return
	}

	pos, vel := geom.SmoothDamp(t.Position, t.Target, t.Velocity, t.SmoothTime(d), dt)
	if vel.Magnitude() < t.params.FloorSpeed && pos.Distance(t.Target) > t.params.Epsilon {
		vel = t.Target.Sub(pos).Normalized().Scale(t.params.FloorSpeed)
	}
	t.Position = pos
	t.Velocity = vel
}
