// Package transform converts geographic coordinates into scene space.
//
// The scene uses a y-up frame. A point at latitude 0, longitude 0 sits on
// the +z axis of its body, and longitude grows toward +x.
package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// LatLonToScene returns the offset from a body's centre of the surface point
// at the given latitude and longitude (degrees), at distance r.
func LatLonToScene(latDeg, lonDeg, r float64) r3.Vec {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	return r3.Vec{
		X: r * math.Cos(lat) * math.Sin(lon),
		Y: r * math.Sin(lat),
		Z: r * math.Cos(lat) * math.Cos(lon),
	}
}

// SurfaceRadius is the scene distance from a body's centre of an object
// altitudeKm above its surface. kmPerUnit converts altitude to scene units.
// Negative altitudes clamp to the surface.
func SurfaceRadius(bodyRadius, altitudeKm, kmPerUnit float64) float64 {
	if kmPerUnit <= 0 || altitudeKm <= 0 || math.IsNaN(altitudeKm) {
		return bodyRadius
	}
	return bodyRadius + altitudeKm/kmPerUnit
}

// NormalizeLongitude wraps degrees into [-180, 180).
func NormalizeLongitude(lonDeg float64) float64 {
	lon := math.Mod(lonDeg+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
