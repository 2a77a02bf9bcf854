package scene

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/spacecommand/internal/body"
)

// Belt bounds in scene units.
const (
	BeltInner  = 2.2 * body.SceneScale
	BeltOuter  = 3.2 * body.SceneScale
	beltHeight = 1.5
)

// Milky-way fade distances.
const (
	galaxyFadeStart = 300.0
	galaxyFadeEnd   = 900.0
	galaxyMaxAlpha  = 0.7
)

// Asteroid is one belt particle on a flat circular path.
type Asteroid struct {
	Radius float64
	Angle0 float64
	Height float64
	Speed  float64 // radians per simulated second
}

// Belt is a fixed set of asteroids. It is immutable after construction.
type Belt struct {
	asteroids []Asteroid
}

// NewBelt scatters count asteroids between BeltInner and BeltOuter. The same
// seed always yields the same belt.
func NewBelt(count int, seed int64) *Belt {
	if count < 0 {
		count = 0
	}
	rng := rand.New(rand.NewSource(seed))
	b := &Belt{asteroids: make([]Asteroid, count)}
	for i := range b.asteroids {
		r := BeltInner + rng.Float64()*(BeltOuter-BeltInner)
		b.asteroids[i] = Asteroid{
			Radius: r,
			Angle0: rng.Float64() * 2 * math.Pi,
			Height: (rng.Float64() - 0.5) * beltHeight,
			Speed:  (0.01 + rng.Float64()*0.02) * (BeltOuter / r) * 0.5,
		}
	}
	return b
}

// Len returns the number of asteroids.
func (b *Belt) Len() int {
	return len(b.asteroids)
}

// Asteroids returns a copy of the belt's particles.
func (b *Belt) Asteroids() []Asteroid {
	return append([]Asteroid(nil), b.asteroids...)
}

// Position returns asteroid a at simulated time t.
func (a Asteroid) Position(t float64) r3.Vec {
	angle := a.Angle0 + t*a.Speed
	return r3.Vec{
		X: a.Radius * math.Cos(angle),
		Y: a.Height,
		Z: a.Radius * math.Sin(angle),
	}
}

// Positions returns every asteroid at time t, at most limit of them when
// limit >= 0.
func (b *Belt) Positions(t float64, limit int) [][3]float64 {
	n := len(b.asteroids)
	if limit >= 0 && limit < n {
		n = limit
	}
	out := make([][3]float64, n)
	for i := 0; i < n; i++ {
		p := b.asteroids[i].Position(t)
		out[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return out
}

// GalaxyOpacity returns the milky-way backdrop opacity for a camera at
// distance from its target. Close in the backdrop is hidden; it fades in
// linearly until galaxyFadeEnd.
func GalaxyOpacity(distance float64) float64 {
	f := clamp((distance-galaxyFadeStart)/(galaxyFadeEnd-galaxyFadeStart), 0, 1)
	return f * galaxyMaxAlpha
}
