package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const minPolar = 1e-6

// Controls orbits a camera around its target. Input accumulates into pending
// deltas which Update applies with damping, one frame at a time.
type Controls struct {
	cam *Camera

	Damping     float64
	MinDistance float64
	MaxDistance float64

	radius, theta, phi float64
	dTheta, dPhi       float64
	scale              float64

	homePosition r3.Vec
	homeTarget   r3.Vec
}

// NewControls attaches controls to cam and records its current pose as the
// reset pose.
func NewControls(cam *Camera, damping, minDistance, maxDistance float64) *Controls {
	c := &Controls{
		cam:         cam,
		Damping:     damping,
		MinDistance: minDistance,
		MaxDistance: maxDistance,
		scale:       1,
	}
	c.SaveState()
	c.syncFromCamera()
	return c
}

// SaveState records the camera pose restored by Reset.
func (c *Controls) SaveState() {
	c.homePosition = c.cam.Position
	c.homeTarget = c.cam.Target
}

func (c *Controls) syncFromCamera() {
	off := r3.Sub(c.cam.Position, c.cam.Target)
	c.radius = r3.Norm(off)
	if c.radius == 0 {
		c.theta, c.phi = 0, math.Pi/2
		return
	}
	c.theta = math.Atan2(off.X, off.Z)
	c.phi = math.Acos(clamp(off.Y/c.radius, -1, 1))
}

// Rotate queues an orbit by dTheta (azimuth) and dPhi (polar), in radians.
func (c *Controls) Rotate(dTheta, dPhi float64) {
	c.dTheta += dTheta
	c.dPhi += dPhi
}

// Dolly queues a zoom. factor > 1 moves the camera closer.
func (c *Controls) Dolly(factor float64) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return
	}
	c.scale /= factor
}

// Reset restores the saved pose and drops any pending motion.
func (c *Controls) Reset() {
	c.cam.Position = c.homePosition
	c.cam.Target = c.homeTarget
	c.dTheta, c.dPhi = 0, 0
	c.scale = 1
	c.syncFromCamera()
}

// Distance returns the current camera-to-target distance.
func (c *Controls) Distance() float64 {
	return c.radius
}

// Update applies one frame of damped motion and moves the camera.
func (c *Controls) Update() {
	c.theta += c.dTheta * c.Damping
	c.phi = clamp(c.phi+c.dPhi*c.Damping, minPolar, math.Pi-minPolar)
	c.dTheta *= 1 - c.Damping
	c.dPhi *= 1 - c.Damping

	c.radius = clamp(c.radius*c.scale, c.MinDistance, c.MaxDistance)
	c.scale = 1

	sinPhi := math.Sin(c.phi)
	off := r3.Vec{
		X: c.radius * sinPhi * math.Sin(c.theta),
		Y: c.radius * math.Cos(c.phi),
		Z: c.radius * sinPhi * math.Cos(c.theta),
	}
	c.cam.Position = r3.Add(c.cam.Target, off)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
