package orbit

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/spacecommand/internal/body"
)

const tol = 1e-9

func halley() body.OrbitalParameters {
	return body.NewOrbitalParameters(356.68, 0.967, 162.26*math.Pi/180, 76)
}

// TestCircularInvariant verifies x²+z² stays equal to the orbital radius
// squared at every sampled time.
func TestCircularInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		c := &body.Circular{
			InitialAngle: rng.Float64() * 2 * math.Pi,
			Radius:       rng.Float64() * 600,
			RateCoeff:    rng.Float64(),
			PlaneHeight:  rng.Float64()*10 - 5,
		}
		tm := rng.Float64() * 1e5
		p := CircularPosition(c, tm)
		got := p.X*p.X + p.Z*p.Z
		assert.InDelta(t, c.Radius*c.Radius, got, 1e-6*math.Max(1, c.Radius*c.Radius))
		assert.Equal(t, c.PlaneHeight, p.Y)
	}
}

// TestEarthQuarterOrbit verifies Earth reaches (0, y0, 20) when its angle is π/2.
func TestEarthQuarterOrbit(t *testing.T) {
	c := &body.Circular{Radius: 20, RateCoeff: 0.29, PlaneHeight: 0}
	tm := (math.Pi / 2) / (c.RateCoeff * SpeedScale)

	p := CircularPosition(c, tm)
	assert.InDelta(t, 0, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-9)
	assert.InDelta(t, 20, p.Z, 1e-9)
}

// TestHalleyPerihelionAphelion verifies the focus distance at u=0 and u=0.5.
func TestHalleyPerihelionAphelion(t *testing.T) {
	p := halley()

	peri := r3.Norm(EllipticalPosition(&p, 0))
	want := 0.586 * body.SceneScale
	assert.InEpsilon(t, want, peri, 0.01, "perihelion distance %v", peri)

	aph := r3.Norm(EllipticalPosition(&p, 0.5))
	want = 35.082 * body.SceneScale
	assert.InEpsilon(t, want, aph, 0.01, "aphelion distance %v", aph)
}

// TestEllipticalBounds verifies the focus distance stays within
// [perihelion, aphelion] for any cursor and any inclination.
func TestEllipticalBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const eps = 1e-9
	for i := 0; i < 100; i++ {
		p := body.NewOrbitalParameters(1+rng.Float64()*1000, rng.Float64()*0.99, rng.Float64()*math.Pi, 1+rng.Float64()*600)
		pl := &body.Placement{U: rng.Float64()}
		for step := 0; step < 200; step++ {
			w := StepElliptical(&p, pl, 0.016+rng.Float64()*0.5)
			d := r3.Norm(w)
			require.GreaterOrEqual(t, d, p.Perihelion*(1-eps))
			require.LessOrEqual(t, d, p.Aphelion*(1+eps))
			require.GreaterOrEqual(t, pl.U, 0.0)
			require.Less(t, pl.U, 1.0)
		}
	}
}

// TestSpeedMonotonic verifies speed never increases with distance between
// perihelion and aphelion.
func TestSpeedMonotonic(t *testing.T) {
	p := halley()
	rng := rand.New(rand.NewSource(3))

	ds := make([]float64, 500)
	for i := range ds {
		ds[i] = p.Perihelion + rng.Float64()*(p.Aphelion-p.Perihelion)
	}
	for i := range ds {
		for j := range ds {
			if ds[i] < ds[j] {
				require.GreaterOrEqual(t, SpeedFactor(&p, ds[i]), SpeedFactor(&p, ds[j]))
			}
		}
	}

	minS, maxS := SpeedBounds(&p)
	assert.Equal(t, maxS, SpeedFactor(&p, p.Perihelion))
	assert.Equal(t, minS, SpeedFactor(&p, p.Aphelion))
}

// TestSpeedScalesWithPeriod verifies longer periods yield slower bounds.
func TestSpeedScalesWithPeriod(t *testing.T) {
	short := body.NewOrbitalParameters(100, 0.5, 0, 76)
	long := body.NewOrbitalParameters(100, 0.5, 0, 248)

	sMin, sMax := SpeedBounds(&short)
	lMin, lMax := SpeedBounds(&long)
	assert.InDelta(t, MinSpeedBase, sMin, tol)
	assert.InDelta(t, MaxSpeedBase, sMax, tol)
	assert.Less(t, lMin, sMin)
	assert.Less(t, lMax, sMax)
}

// TestSpeedCircularSpecialCase verifies a zero-eccentricity orbit does not
// divide by zero.
func TestSpeedCircularSpecialCase(t *testing.T) {
	p := body.NewOrbitalParameters(100, 0, 0, 76)
	require.Equal(t, p.Perihelion, p.Aphelion)

	for _, d := range []float64{0, 50, 100, 105, 200} {
		s := SpeedFactor(&p, d)
		assert.False(t, math.IsNaN(s) || math.IsInf(s, 0), "distance %v gave %v", d, s)
	}
}

// TestAdvanceUWrap verifies wrapping equals the value modulo 1.
func TestAdvanceUWrap(t *testing.T) {
	tests := []struct {
		u, speed, dt float64
		want         float64
	}{
		{0.9, 0.4, 1, 0.1},
		{0.5, 0.2, 1, 0.6},
		{0.75, 1.0, 1, 0.25},
		{0.0, 6.5, 1, 0.25},
	}
	for _, tt := range tests {
		got := AdvanceU(tt.u, tt.speed, tt.dt)
		assert.InDelta(t, tt.want, got, 1e-12, "AdvanceU(%v,%v,%v)", tt.u, tt.speed, tt.dt)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, 1.0)
	}
}

// TestWrapContinuity verifies crossing u=1 moves the body no further than an
// ordinary step would.
func TestWrapContinuity(t *testing.T) {
	p := halley()
	pl := &body.Placement{U: 0.999}
	dt := 0.05

	before := EllipticalPosition(&p, pl.U)
	after := StepElliptical(&p, pl, dt)
	require.Less(t, pl.U, 0.5, "cursor should have wrapped")

	// Expected arc length for one step at max speed near perihelion.
	_, maxS := SpeedBounds(&p)
	du := maxS * dt * Damping
	stepArc := 2 * math.Pi * p.SemiMajor * du
	assert.LessOrEqual(t, r3.Norm(r3.Sub(after, before)), stepArc)
}

// TestMoonTranslationInvariance verifies moving the parent moves the moon by
// the same amount.
func TestMoonTranslationInvariance(t *testing.T) {
	c := &body.Circular{Radius: 2, RateCoeff: 3, Inclination: 0.3}
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 50; i++ {
		tm := rng.Float64() * 1000
		p1 := r3.Vec{X: rng.Float64() * 100, Y: rng.Float64() * 10, Z: rng.Float64() * 100}
		p2 := r3.Add(p1, r3.Vec{X: rng.Float64()*50 - 25, Y: 1, Z: -7})

		off1 := r3.Sub(MoonPosition(p1, c, tm), p1)
		off2 := r3.Sub(MoonPosition(p2, c, tm), p2)
		assert.InDelta(t, 0, r3.Norm(r3.Sub(off1, off2)), 1e-9)
		assert.InDelta(t, c.Radius, r3.Norm(off1), 1e-9)
	}
}

// TestInclinationRotatesPlane verifies inclination preserves distance and
// lifts the orbit out of z = 0.
func TestInclinationRotatesPlane(t *testing.T) {
	flat := body.NewOrbitalParameters(100, 0.3, 0, 76)
	tilted := body.NewOrbitalParameters(100, 0.3, math.Pi/4, 76)

	a := EllipticalPosition(&flat, 0.25)
	b := EllipticalPosition(&tilted, 0.25)
	assert.InDelta(t, r3.Norm(a), r3.Norm(b), 1e-9)
	assert.InDelta(t, 0, a.Z, 1e-12)
	assert.NotZero(t, b.Z)
}
