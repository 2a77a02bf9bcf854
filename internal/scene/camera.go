package scene

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Camera is a perspective camera looking at Target.
type Camera struct {
	Position r3.Vec
	Target   r3.Vec
	Up       r3.Vec

	FOV    float64 // vertical field of view, degrees
	Near   float64
	Far    float64
	Width  int
	Height int

	aspect     float64
	tanHalfFOV float64
	projection [16]float64
}

// NewCamera returns a camera with the given lens and viewport. The projection
// is valid on return.
func NewCamera(fov, near, far float64, width, height int) (*Camera, error) {
	c := &Camera{
		Up:   r3.Vec{Y: 1},
		FOV:  fov,
		Near: near,
		Far:  far,
	}
	if err := c.Resize(width, height); err != nil {
		return nil, err
	}
	return c, nil
}

// Resize updates the viewport, aspect ratio and projection together.
func (c *Camera) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	c.Width = width
	c.Height = height
	c.aspect = float64(width) / float64(height)
	c.updateProjection()
	return nil
}

// Aspect returns the width/height ratio the projection was built with.
func (c *Camera) Aspect() float64 {
	return c.aspect
}

// Projection returns the column-major perspective projection matrix.
func (c *Camera) Projection() [16]float64 {
	return c.projection
}

func (c *Camera) updateProjection() {
	c.tanHalfFOV = math.Tan(c.FOV * math.Pi / 360)
	f := 1 / c.tanHalfFOV
	nf := 1 / (c.Near - c.Far)

	c.projection = [16]float64{
		f / c.aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (c.Far + c.Near) * nf, -1,
		0, 0, 2 * c.Far * c.Near * nf, 0,
	}
}

// basis returns the camera's forward, right and up unit vectors.
func (c *Camera) basis() (forward, right, up r3.Vec) {
	forward = r3.Unit(r3.Sub(c.Target, c.Position))
	right = r3.Unit(r3.Cross(forward, c.Up))
	up = r3.Cross(right, forward)
	return forward, right, up
}

// Ray returns the world-space ray through pixel (px, py), with (0,0) at the
// top-left of the viewport.
func (c *Camera) Ray(px, py float64) (origin, dir r3.Vec) {
	ndcX := 2*px/float64(c.Width) - 1
	ndcY := 1 - 2*py/float64(c.Height)

	forward, right, up := c.basis()
	d := r3.Add(forward, r3.Add(
		r3.Scale(ndcX*c.tanHalfFOV*c.aspect, right),
		r3.Scale(ndcY*c.tanHalfFOV, up),
	))
	return c.Position, r3.Unit(d)
}

// Project maps a world point to pixel coordinates. ok is false when the point
// is behind the near plane.
func (c *Camera) Project(p r3.Vec) (px, py float64, ok bool) {
	forward, right, up := c.basis()
	rel := r3.Sub(p, c.Position)
	z := r3.Dot(rel, forward)
	if z <= c.Near {
		return 0, 0, false
	}
	x := r3.Dot(rel, right) / (z * c.tanHalfFOV * c.aspect)
	y := r3.Dot(rel, up) / (z * c.tanHalfFOV)
	px = (x + 1) / 2 * float64(c.Width)
	py = (1 - y) / 2 * float64(c.Height)
	return px, py, true
}
