package orbit

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/spacecommand/internal/body"
)

// Evaluator is the only writer of placement state in a registry. It is not
// safe for concurrent use; the scene loop calls it from a single goroutine.
type Evaluator struct {
	reg *body.Registry
}

// NewEvaluator returns an evaluator over reg.
func NewEvaluator(reg *body.Registry) *Evaluator {
	return &Evaluator{reg: reg}
}

// SeedCursors sets every elliptical cursor from next, which must return
// values in [0,1). Pass nil to leave all cursors at perihelion.
func (e *Evaluator) SeedCursors(next func() float64) {
	if next == nil {
		return
	}
	for i, b := range e.reg.GetAll() {
		if b.Mode() == body.ModeElliptical {
			e.reg.PlacementAt(i).U = math.Mod(math.Abs(next()), 1)
		}
	}
}

// UpdateCircular repositions every circular body that orbits the origin.
func (e *Evaluator) UpdateCircular(elapsed float64) {
	for i, b := range e.reg.GetAll() {
		if b.Mode() != body.ModeCircular || b.IsMoon() {
			continue
		}
		pl := e.reg.PlacementAt(i)
		pl.Angle = Angle(b.Circular, elapsed)
		pl.World = CircularPosition(b.Circular, elapsed)
		pl.HasWorld = true
	}
}

// UpdateElliptical advances every elliptical body by dt and then composes
// every moon onto its parent. Parents precede children in the registry, so
// one ordered pass is enough.
func (e *Evaluator) UpdateElliptical(elapsed, dt float64) {
	all := e.reg.GetAll()
	for i, b := range all {
		if b.Mode() != body.ModeElliptical {
			continue
		}
		pl := e.reg.PlacementAt(i)
		pl.World = StepElliptical(b.Elliptical, pl, dt)
		pl.HasWorld = true
	}

	for i, b := range all {
		if !b.IsMoon() {
			continue
		}
		parent, err := e.reg.Placement(b.Parent)
		if err != nil {
			// Rejected by registry validation.
			continue
		}
		pl := e.reg.PlacementAt(i)
		pl.Angle = Angle(b.Circular, elapsed)
		pl.World = MoonPosition(parent.World, b.Circular, elapsed)
		pl.HasWorld = true
	}
}

// Spin applies one frame of self-rotation. Tracked satellites do not spin.
func (e *Evaluator) Spin() {
	for i, b := range e.reg.GetAll() {
		pl := e.reg.PlacementAt(i)
		switch b.Mode() {
		case body.ModeElliptical:
			pl.Spin = math.Mod(pl.Spin+SpinElliptical, 2*math.Pi)
		case body.ModeTracked:
		default:
			pl.Spin = math.Mod(pl.Spin+SpinNamed, 2*math.Pi)
		}
	}
}

// Step runs one full update: circular bodies, then elliptical bodies and
// moons, then self-rotation.
func (e *Evaluator) Step(elapsed, dt float64) {
	e.UpdateCircular(elapsed)
	e.UpdateElliptical(elapsed, dt)
	e.Spin()
}

// SetTracked places a tracked body at offset from its parent's current
// world position.
func (e *Evaluator) SetTracked(name string, offset r3.Vec) error {
	b, err := e.reg.GetByName(name)
	if err != nil {
		return err
	}
	parent, err := e.reg.Placement(b.Parent)
	if err != nil {
		return err
	}
	pl, err := e.reg.Placement(name)
	if err != nil {
		return err
	}
	pl.World = r3.Add(parent.World, offset)
	pl.HasWorld = true
	return nil
}

// Positions returns the world position of every placed body by name.
func (e *Evaluator) Positions() map[string]r3.Vec {
	all := e.reg.GetAll()
	out := make(map[string]r3.Vec, len(all))
	for i, b := range all {
		if pl := e.reg.PlacementAt(i); pl.HasWorld {
			out[b.Name] = pl.World
		}
	}
	return out
}
