// Package geom holds the small vector and quaternion types shared by the
// wire codec, the local input sampler and the remote synchronizer.
package geom

import "math"

// Vec3 is a float32 position or direction, matching the wire layout.
type Vec3 struct {
	X, Y, Z float32
}

func (a Vec3) Add(b Vec3) Vec3         { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3         { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float32) Vec3    { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float32      { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) SqrMagnitude() float32   { return a.Dot(a) }
func (a Vec3) Magnitude() float32      { return float32(math.Sqrt(float64(a.SqrMagnitude()))) }
func (a Vec3) Distance(b Vec3) float32 { return a.Sub(b).Magnitude() }

// Normalized returns the unit vector, or zero for a zero-length input.
func (a Vec3) Normalized() Vec3 {
	m := a.Magnitude()
	if m < 1e-6 {
		return Vec3{}
	}
	return a.Scale(1 / m)
}

// Quat is a rotation quaternion (x, y, z, w).
type Quat struct {
	X, Y, Z, W float32
}

// Identity is the no-rotation quaternion.
var Identity = Quat{W: 1}

func (a Quat) Dot(b Quat) float32 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z + a.W*b.W }

// Angle returns the angle in degrees between two unit rotations.
func (a Quat) Angle(b Quat) float32 {
	d := math.Abs(float64(a.Dot(b)))
	if d > 1 {
		d = 1
	}
	// within float noise of identical
	if d > 1-1e-6 {
		return 0
	}
	return float32(math.Acos(d) * 2 * 180 / math.Pi)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
