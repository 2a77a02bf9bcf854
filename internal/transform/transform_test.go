package transform

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// TestJulianDate verifies Julian Dates for reference instants.
func TestJulianDate(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
		want float64
	}{
		{"J2000.0", time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC), 2451545.0},
		{"unix epoch", time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), 2440587.5},
		{"february rollover", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), 2460369.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JulianDate(tt.time); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("JulianDate = %.6f, want %.6f", got, tt.want)
			}
		})
	}
}

// TestGMSTRange verifies GMST stays in [0, 2π) and advances about one
// sidereal turn per day.
func TestGMSTRange(t *testing.T) {
	base := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 48; h++ {
		g := GMST(base.Add(time.Duration(h) * time.Hour))
		if g < 0 || g >= 2*math.Pi {
			t.Fatalf("GMST out of range at +%dh: %v", h, g)
		}
	}

	// One solar day is ~3m56s longer than a sidereal day, so GMST gains ~0.0172 rad.
	d := GMST(base.Add(24*time.Hour)) - GMST(base)
	if d < 0 {
		d += 2 * math.Pi
	}
	if math.Abs(d-0.01720) > 1e-3 {
		t.Errorf("daily GMST drift = %v, want ~0.0172", d)
	}
}

// TestLatLonToScene verifies the projection at cardinal points.
func TestLatLonToScene(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     r3.Vec
	}{
		{"origin meridian", 0, 0, r3.Vec{Z: 2}},
		{"east", 0, 90, r3.Vec{X: 2}},
		{"north pole", 90, 45, r3.Vec{Y: 2}},
		{"south pole", -90, 0, r3.Vec{Y: -2}},
		{"antimeridian", 0, 180, r3.Vec{Z: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LatLonToScene(tt.lat, tt.lon, 2)
			if r3.Norm(r3.Sub(got, tt.want)) > 1e-9 {
				t.Errorf("LatLonToScene(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

// TestLatLonToSceneRadius verifies every projected point lies at distance r.
func TestLatLonToSceneRadius(t *testing.T) {
	for lat := -90.0; lat <= 90; lat += 15 {
		for lon := -180.0; lon < 180; lon += 20 {
			if n := r3.Norm(LatLonToScene(lat, lon, 1.25)); math.Abs(n-1.25) > 1e-9 {
				t.Fatalf("norm at (%v,%v) = %v", lat, lon, n)
			}
		}
	}
}

// TestSurfaceRadius verifies altitude scaling and clamping.
func TestSurfaceRadius(t *testing.T) {
	if got := SurfaceRadius(1, 400, 4000); math.Abs(got-1.1) > 1e-12 {
		t.Errorf("SurfaceRadius = %v, want 1.1", got)
	}
	if got := SurfaceRadius(1, -5, 4000); got != 1 {
		t.Errorf("negative altitude = %v, want 1", got)
	}
	if got := SurfaceRadius(1, 400, 0); got != 1 {
		t.Errorf("zero scale = %v, want 1", got)
	}
}

// TestNormalizeLongitude verifies wrapping into [-180, 180).
func TestNormalizeLongitude(t *testing.T) {
	for in, want := range map[float64]float64{190: -170, -190: 170, 180: -180, 45: 45, 540: -180} {
		if got := NormalizeLongitude(in); math.Abs(got-want) > 1e-9 {
			t.Errorf("NormalizeLongitude(%v) = %v, want %v", in, got, want)
		}
	}
}
