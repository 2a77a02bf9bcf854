// Package orbit positions bodies over simulated time.
//
// Circular bodies move at a fixed angular rate. Elliptical bodies move along
// a precomputed parametric ellipse whose speed is blended between a maximum
// near perihelion and a minimum near aphelion. This qualitatively follows
// Kepler's second law without solving Kepler's equation. Moons run the
// circular model in their parent's frame.
package orbit

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/spacecommand/internal/body"
)

const (
	// SpeedScale converts circular rate coefficients to radians per second.
	SpeedScale = 0.1
	// Damping scales the elliptical cursor advance.
	Damping = 0.5
	// ReferencePeriodYears normalises elliptical speeds (Halley's period).
	ReferencePeriodYears = 76.0
	// MinSpeedBase and MaxSpeedBase are the elliptical speed bounds for a
	// body whose period equals ReferencePeriodYears.
	MinSpeedBase = 0.0005
	MaxSpeedBase = 0.1

	// Self-rotation per frame.
	SpinNamed      = 0.002
	SpinElliptical = 0.005
)

var xAxis = r3.Vec{X: 1}

// Angle returns the circular-orbit angle at elapsed time t.
func Angle(c *body.Circular, t float64) float64 {
	return c.InitialAngle + t*c.RateCoeff*SpeedScale
}

// CircularPosition returns the position of a circular body at time t. The
// orbit lies in the xz plane at height PlaneHeight.
func CircularPosition(c *body.Circular, t float64) r3.Vec {
	a := Angle(c, t)
	return r3.Vec{
		X: math.Cos(a) * c.Radius,
		Y: c.PlaneHeight,
		Z: math.Sin(a) * c.Radius,
	}
}

// EllipsePoint returns the in-plane point at cursor u, before inclination.
// u = 0 is perihelion and u = 0.5 is aphelion.
func EllipsePoint(p *body.OrbitalParameters, u float64) r3.Vec {
	theta := 2 * math.Pi * u
	return r3.Vec{
		X: p.CenterX + p.SemiMajor*math.Cos(theta),
		Y: p.SemiMinor * math.Sin(theta),
	}
}

// Incline rotates an in-plane point by the orbit's inclination about the x
// axis. The rotation belongs to the plane, so it is the same for every u.
func Incline(p *body.OrbitalParameters, v r3.Vec) r3.Vec {
	if p.Inclination == 0 {
		return v
	}
	return r3.NewRotation(p.Inclination, xAxis).Rotate(v)
}

// EllipticalPosition returns the world position at cursor u, relative to the
// focus.
func EllipticalPosition(p *body.OrbitalParameters, u float64) r3.Vec {
	return Incline(p, EllipsePoint(p, u))
}

// SpeedBounds returns the minimum and maximum cursor speeds for p. Longer
// periods move slower.
func SpeedBounds(p *body.OrbitalParameters) (minSpeed, maxSpeed float64) {
	ratio := p.PeriodYears / ReferencePeriodYears
	if !(ratio > 0) {
		ratio = 1
	}
	return MinSpeedBase / ratio, MaxSpeedBase / ratio
}

// SpeedFactor returns the cursor speed for a body at the given distance from
// the focus. It is non-increasing in distance.
func SpeedFactor(p *body.OrbitalParameters, distance float64) float64 {
	minSpeed, maxSpeed := SpeedBounds(p)

	switch {
	case distance <= p.Perihelion*1.1:
		return maxSpeed
	case distance >= p.Aphelion*0.9:
		return minSpeed
	}

	span := p.Aphelion - p.Perihelion
	if span <= 0 {
		return minSpeed
	}
	norm := (distance - p.Perihelion) / span
	return math.Max(minSpeed, maxSpeed-norm*(maxSpeed-minSpeed))
}

// AdvanceU moves the cursor by speed*dt*Damping and wraps it into [0,1).
func AdvanceU(u, speed, dt float64) float64 {
	u = math.Mod(u+speed*dt*Damping, 1)
	if u < 0 {
		u += 1
	}
	// A tiny negative remainder plus 1 rounds to exactly 1.
	if u >= 1 {
		u = 0
	}
	return u
}

// StepElliptical advances the cursor in pl by one frame and returns the new
// world position. The speed is chosen from the distance at the cursor's
// position at the start of the step.
func StepElliptical(p *body.OrbitalParameters, pl *body.Placement, dt float64) r3.Vec {
	prev := EllipticalPosition(p, pl.U)
	speed := SpeedFactor(p, r3.Norm(prev))
	pl.U = AdvanceU(pl.U, speed, dt)
	return EllipticalPosition(p, pl.U)
}

// LocalOffset returns a moon's offset from its parent at time t, including
// the moon's own orbital-plane tilt.
func LocalOffset(c *body.Circular, t float64) r3.Vec {
	v := CircularPosition(c, t)
	if c.Inclination == 0 {
		return v
	}
	return r3.NewRotation(c.Inclination, xAxis).Rotate(v)
}

// MoonPosition composes a moon's world position from its parent's.
func MoonPosition(parentWorld r3.Vec, c *body.Circular, t float64) r3.Vec {
	return r3.Add(parentWorld, LocalOffset(c, t))
}
