package transform

import (
	"math"
	"time"
)

const j2000 = 2451545.0

// JulianDate converts a UTC time to a Julian Date.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	dayFrac := (float64(t.Hour()) +
		float64(t.Minute())/60 +
		(float64(t.Second())+float64(t.Nanosecond())/1e9)/3600) / 24

	if m <= 2 {
		y--
		m += 12
	}
	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5 + dayFrac
}

// GMST returns Greenwich Mean Sidereal Time in radians, in [0, 2π). IAU-82
// model, with UT1 taken as UTC.
func GMST(t time.Time) float64 {
	tu := (JulianDate(t) - j2000) / 36525.0

	sec := 67310.54841 +
		(876600*3600+8640184.812866)*tu +
		0.093104*tu*tu -
		6.2e-6*tu*tu*tu

	sec = math.Mod(sec, 86400)
	if sec < 0 {
		sec += 86400
	}
	return sec / 86400 * 2 * math.Pi
}
