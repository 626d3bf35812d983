package geom

// SmoothDamp advances current toward target with a critically damped spring
// of the given smoothing time. It has no speed cap and never overshoots: if
// a step would pass the target it lands exactly on it with zero velocity.
func SmoothDamp(current, target, velocity Vec3, smoothTime, dt float32) (Vec3, Vec3) {
	if dt <= 0 {
		return current, velocity
	}
	if smoothTime < 1e-4 {
		smoothTime = 1e-4
	}

	omega := 2 / smoothTime
	x := omega * dt
	exp := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)

	change := current.Sub(target)
	temp := velocity.Add(change.Scale(omega)).Scale(dt)
	newVelocity := velocity.Sub(temp.Scale(omega)).Scale(exp)
	output := target.Add(change.Add(temp).Scale(exp))

	if target.Sub(current).Dot(output.Sub(target)) > 0 {
		return target, Vec3{}
	}
	return output, newVelocity
}
