package telemetry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/spacecommand/internal/transform"
)

// SGP4Source computes positions offline from a TLE. It never touches the
// network, so it serves as a fallback when the HTTP source is unreachable.
type SGP4Source struct {
	el  Element
	sat satellite.Satellite
	now func() time.Time
}

// NewSGP4Source validates el and initialises the SGP4 model.
//
// go-satellite calls log.Fatal on malformed lines, so the lines are checked
// here first.
func NewSGP4Source(el Element) (*SGP4Source, error) {
	if err := validateTLELines(el.Line1, el.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for %s: %w", el.Name, err)
	}
	sat := satellite.TLEToSat(el.Line1, el.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for %s: code=%d %s", el.Name, sat.Error, sat.ErrorStr)
	}
	return &SGP4Source{el: el, sat: sat, now: time.Now}, nil
}

func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// Name identifies the element set.
func (s *SGP4Source) Name() string {
	return fmt.Sprintf("sgp4:%s", s.el.Name)
}

// Fetch propagates to the current time.
func (s *SGP4Source) Fetch(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	return s.At(s.now())
}

// At propagates to t.
func (s *SGP4Source) At(t time.Time) (Position, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(s.sat,
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	for _, v := range []float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Position{}, fmt.Errorf("sgp4 propagation failed for %s: output is NaN/Inf", s.el.Name)
		}
	}

	alt, _, ll := satellite.ECIToLLA(pos, transform.GMST(t))
	deg := satellite.LatLongDeg(ll)
	speed := math.Sqrt(vel.X*vel.X+vel.Y*vel.Y+vel.Z*vel.Z) * 3600

	p := Position{
		Latitude:   deg.Latitude,
		Longitude:  transform.NormalizeLongitude(deg.Longitude),
		Altitude:   alt,
		Velocity:   speed,
		Visibility: "computed",
		Timestamp:  t.Unix(),
	}
	if err := p.Validate(); err != nil {
		return Position{}, fmt.Errorf("sgp4 %s: %w", s.el.Name, err)
	}
	return p, nil
}
