package body

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotFound is returned when a body name is not in the registry.
	ErrNotFound = errors.New("body not found")
	// ErrInvalid is returned when a catalog entry breaks a registry invariant.
	ErrInvalid = errors.New("invalid body")
)

// Registry owns the ordered catalog and the placement state of every body.
// Insertion order is preserved because render order depends on it.
type Registry struct {
	bodies     []*CelestialBody
	byName     map[string]int
	placements []*Placement
	children   map[string][]string
}

// New validates bodies and builds a registry. Parents must be declared before
// their children, so a parent cycle cannot be expressed.
func New(bodies ...CelestialBody) (*Registry, error) {
	r := &Registry{
		bodies:     make([]*CelestialBody, 0, len(bodies)),
		byName:     make(map[string]int, len(bodies)),
		placements: make([]*Placement, 0, len(bodies)),
		children:   make(map[string][]string),
	}

	for i := range bodies {
		b := bodies[i]
		if err := r.validate(&b); err != nil {
			return nil, err
		}

		p := &Placement{}
		switch b.Mode() {
		case ModeCircular:
			p.Angle = b.Circular.InitialAngle
		case ModeFixed:
			p.World = b.Position
			p.HasWorld = true
		}

		r.byName[b.Name] = len(r.bodies)
		r.bodies = append(r.bodies, &b)
		r.placements = append(r.placements, p)
		if b.Parent != "" {
			r.children[b.Parent] = append(r.children[b.Parent], b.Name)
		}
	}

	return r, nil
}

func (r *Registry) validate(b *CelestialBody) error {
	if b.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if _, dup := r.byName[b.Name]; dup {
		return fmt.Errorf("%w: duplicate name %q", ErrInvalid, b.Name)
	}
	if !(b.Radius > 0) || math.IsInf(b.Radius, 0) {
		return fmt.Errorf("%w: %q radius %v must be > 0", ErrInvalid, b.Name, b.Radius)
	}
	if b.Circular != nil && b.Elliptical != nil {
		return fmt.Errorf("%w: %q has both circular and elliptical placement", ErrInvalid, b.Name)
	}
	if c := b.Circular; c != nil && c.Radius < 0 {
		return fmt.Errorf("%w: %q orbital radius %v must be >= 0", ErrInvalid, b.Name, c.Radius)
	}
	if p := b.Elliptical; p != nil {
		if p.Eccentricity < 0 || p.Eccentricity >= 1 {
			return fmt.Errorf("%w: %q eccentricity %v outside [0,1)", ErrInvalid, b.Name, p.Eccentricity)
		}
		if !(p.SemiMajor > 0) {
			return fmt.Errorf("%w: %q semi-major axis %v must be > 0", ErrInvalid, b.Name, p.SemiMajor)
		}
		if !(p.PeriodYears > 0) {
			return fmt.Errorf("%w: %q orbital period %v must be > 0", ErrInvalid, b.Name, p.PeriodYears)
		}
	}

	if b.Parent != "" {
		if b.Parent == b.Name {
			return fmt.Errorf("%w: %q is its own parent", ErrInvalid, b.Name)
		}
		if _, ok := r.byName[b.Parent]; !ok {
			return fmt.Errorf("%w: %q parent %q must be declared first", ErrInvalid, b.Name, b.Parent)
		}
		if b.Kind == KindMoon && b.Circular == nil {
			return fmt.Errorf("%w: moon %q needs a circular orbit relative to %q", ErrInvalid, b.Name, b.Parent)
		}
	} else if b.Kind == KindMoon || b.Kind == KindSatellite {
		return fmt.Errorf("%w: %s %q has no parent", ErrInvalid, b.Kind, b.Name)
	}

	return nil
}

// Len returns the number of bodies.
func (r *Registry) Len() int {
	return len(r.bodies)
}

// GetAll returns the bodies in insertion order. Each call returns a fresh
// slice; the bodies themselves are shared and must not be modified.
func (r *Registry) GetAll() []*CelestialBody {
	out := make([]*CelestialBody, len(r.bodies))
	copy(out, r.bodies)
	return out
}

// GetByName returns the named body or ErrNotFound.
func (r *Registry) GetByName(name string) (*CelestialBody, error) {
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.bodies[i], nil
}

// MustGet is GetByName for statically declared names. It panics on a miss,
// which is a programming error.
func (r *Registry) MustGet(name string) *CelestialBody {
	b, err := r.GetByName(name)
	if err != nil {
		panic(err)
	}
	return b
}

// Placement returns the mutable placement handle for the named body.
func (r *Registry) Placement(name string) (*Placement, error) {
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.placements[i], nil
}

// PlacementAt returns the placement of the i-th body in insertion order.
func (r *Registry) PlacementAt(i int) *Placement {
	return r.placements[i]
}

// Index returns the insertion index of name.
func (r *Registry) Index(name string) (int, bool) {
	i, ok := r.byName[name]
	return i, ok
}

// Children returns the names of bodies whose parent is name, in insertion order.
func (r *Registry) Children(name string) []string {
	return append([]string(nil), r.children[name]...)
}
