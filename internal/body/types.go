// Package body holds the catalog of simulated celestial bodies.
//
// A body is placed in exactly one of three ways: a circular orbit about the
// scene origin (or about its parent, for moons), an elliptical orbit with the
// primary at one focus, or a fixed position. The Registry owns every body and
// hands the orbit evaluator a mutable Placement handle per body; nothing else
// writes placement state after construction.
package body

import (
	"fmt"
	"math"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
)

// SceneScale is the number of scene units per astronomical unit.
const SceneScale = 20.0

// Kind discriminates the variants of CelestialBody.
type Kind int

const (
	KindStar Kind = iota
	KindPlanet
	KindDwarfPlanet
	KindComet
	KindDistantStar
	KindMoon
	KindSatellite
)

var kindNames = [...]string{
	KindStar:        "Star",
	KindPlanet:      "Planet",
	KindDwarfPlanet: "Dwarf Planet",
	KindComet:       "Comet",
	KindDistantStar: "Distant Star",
	KindMoon:        "Moon",
	KindSatellite:   "Satellite",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind accepts display names ("Dwarf Planet") as well as snake_case
// ("dwarf_planet"), case-insensitively.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", " "))
	for i, name := range kindNames {
		if strings.ToLower(name) == norm {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalid, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Info carries display-only fields. None of them affect the simulation.
type Info struct {
	Gravity     string   `json:"gravity,omitempty"`
	Resources   []string `json:"resources,omitempty"`
	Terrain     string   `json:"terrain,omitempty"`
	Biome       string   `json:"biome,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Circular describes a uniform circular orbit. For moons the radius is
// relative to the parent body.
type Circular struct {
	InitialAngle float64 // radians
	Radius       float64 // scene units, >= 0
	RateCoeff    float64 // relative angular rate
	PlaneHeight  float64 // constant y offset
	Inclination  float64 // radians, tilts this orbit's plane only (moons)
}

// OrbitalParameters describes a closed elliptical orbit with the primary at
// the focus. Use NewOrbitalParameters to fill the derived fields.
type OrbitalParameters struct {
	SemiMajor    float64
	Eccentricity float64
	SemiMinor    float64
	Inclination  float64 // radians
	Perihelion   float64
	Aphelion     float64
	CenterX      float64 // ellipse centre relative to the focus, -a*e
	PeriodYears  float64
}

// NewOrbitalParameters derives b, perihelion, aphelion and the centre offset
// from the semi-major axis and eccentricity.
func NewOrbitalParameters(a, e, inclination, periodYears float64) OrbitalParameters {
	return OrbitalParameters{
		SemiMajor:    a,
		Eccentricity: e,
		SemiMinor:    a * math.Sqrt(1-e*e),
		Inclination:  inclination,
		Perihelion:   a * (1 - e),
		Aphelion:     a * (1 + e),
		CenterX:      -a * e,
		PeriodYears:  periodYears,
	}
}

// Ring is a flat annulus attached to a body (Saturn). Radii are multiples of
// the body radius.
type Ring struct {
	InnerScale float64
	OuterScale float64
	Tilt       float64 // radians about x
	TextureRef string
}

// CelestialBody is one simulated object. Exactly one of Circular, Elliptical
// or a fixed Position applies; Mode reports which.
type CelestialBody struct {
	Name       string
	Kind       Kind
	Radius     float64
	Color      colorful.Color
	TextureRef string
	Info       Info
	Ring       *Ring

	Circular   *Circular
	Elliptical *OrbitalParameters
	Position   r3.Vec // fixed position when neither orbit is set

	Parent     string // owning body for moons and satellites
	Selectable bool
}

// Mode identifies the placement variant of a body.
type Mode int

const (
	ModeFixed Mode = iota
	ModeCircular
	ModeElliptical
	ModeTracked // placed by telemetry relative to its parent
)

func (m Mode) String() string {
	switch m {
	case ModeFixed:
		return "fixed"
	case ModeCircular:
		return "circular"
	case ModeElliptical:
		return "elliptical"
	case ModeTracked:
		return "tracked"
	}
	return "unknown"
}

// Mode returns the placement variant of b.
func (b *CelestialBody) Mode() Mode {
	switch {
	case b.Kind == KindSatellite:
		return ModeTracked
	case b.Elliptical != nil:
		return ModeElliptical
	case b.Circular != nil:
		return ModeCircular
	default:
		return ModeFixed
	}
}

// IsMoon reports whether b orbits another body rather than the origin.
func (b *CelestialBody) IsMoon() bool {
	return b.Parent != "" && b.Kind == KindMoon
}

// Placement is the mutable simulation cursor for one body. It is written only
// by the orbit evaluator.
type Placement struct {
	Angle    float64 // current angle for circular bodies
	U        float64 // elliptical cursor in [0,1)
	Spin     float64 // accumulated self-rotation, radians
	World    r3.Vec  // last computed world position
	HasWorld bool
}
