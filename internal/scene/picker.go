package scene

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Handle identifies one pickable visual (a body mesh or a ring).
type Handle uint32

type shapeKind int

const (
	shapeSphere shapeKind = iota
	shapeRing
)

type pickable struct {
	handle Handle
	owner  string
	shape  shapeKind
}

// PickIndex maps every pickable handle to the body that owns it. A ring
// resolves to its planet without any scene-graph walk.
type PickIndex struct {
	entries []pickable
	owners  map[Handle]string
}

func newPickIndex() *PickIndex {
	return &PickIndex{owners: make(map[Handle]string)}
}

func (x *PickIndex) add(owner string, shape shapeKind) Handle {
	h := Handle(len(x.entries) + 1)
	x.entries = append(x.entries, pickable{handle: h, owner: owner, shape: shape})
	x.owners[h] = owner
	return h
}

// Owner returns the body that owns h.
func (x *PickIndex) Owner(h Handle) (string, bool) {
	name, ok := x.owners[h]
	return name, ok
}

// Len returns the number of pickable handles.
func (x *PickIndex) Len() int {
	return len(x.entries)
}

// Target is the geometry of one pickable handle at the start of a frame.
type Target struct {
	Handle Handle
	Center r3.Vec
	Radius float64 // sphere radius, or outer ring radius
	Inner  float64 // ring inner radius
	Normal r3.Vec  // ring plane normal
	ring   bool
}

// Hit is the result of a successful pick.
type Hit struct {
	Body     string
	Handle   Handle
	Distance float64
}

// raySphere returns the nearest non-negative ray parameter hitting the sphere.
func raySphere(origin, dir, center r3.Vec, radius float64) (float64, bool) {
	oc := r3.Sub(origin, center)
	b := r3.Dot(oc, dir)
	c := r3.Dot(oc, oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}

// rayRing intersects the ray with a flat annulus.
func rayRing(origin, dir, center, normal r3.Vec, inner, outer float64) (float64, bool) {
	denom := r3.Dot(dir, normal)
	if math.Abs(denom) < 1e-12 {
		return 0, false
	}
	t := r3.Dot(r3.Sub(center, origin), normal) / denom
	if t < 0 {
		return 0, false
	}
	p := r3.Add(origin, r3.Scale(t, dir))
	d := r3.Norm(r3.Sub(p, center))
	if d < inner || d > outer {
		return 0, false
	}
	return t, true
}

// Pick returns the nearest target hit by the ray. Equal distances are broken
// by body name, then handle, so the result depends only on its inputs.
func (x *PickIndex) Pick(origin, dir r3.Vec, targets []Target) (Hit, bool) {
	var hits []Hit
	for _, tg := range targets {
		owner, ok := x.owners[tg.Handle]
		if !ok {
			continue
		}
		var (
			t   float64
			hit bool
		)
		if tg.ring {
			t, hit = rayRing(origin, dir, tg.Center, tg.Normal, tg.Inner, tg.Radius)
		} else {
			t, hit = raySphere(origin, dir, tg.Center, tg.Radius)
		}
		if hit {
			hits = append(hits, Hit{Body: owner, Handle: tg.Handle, Distance: t})
		}
	}
	if len(hits) == 0 {
		return Hit{}, false
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		if hits[i].Body != hits[j].Body {
			return hits[i].Body < hits[j].Body
		}
		return hits[i].Handle < hits[j].Handle
	})
	return hits[0], true
}
