package body

import (
	_ "embed"
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Bodies []catalogEntry `yaml:"bodies"`
}

type catalogEntry struct {
	Name       string        `yaml:"name"`
	Kind       Kind          `yaml:"kind"`
	Radius     float64       `yaml:"radius"`
	Color      string        `yaml:"color"`
	Texture    string        `yaml:"texture"`
	Position   []float64     `yaml:"position"`
	Orbit      *orbitEntry   `yaml:"orbit"`
	Ellipse    *ellipseEntry `yaml:"ellipse"`
	Ring       *ringEntry    `yaml:"ring"`
	Parent     string        `yaml:"parent"`
	Selectable *bool         `yaml:"selectable"`
	Info       Info          `yaml:"info"`
}

type orbitEntry struct {
	DistanceAU      float64 `yaml:"distance_au"`
	Radius          float64 `yaml:"radius"`
	Rate            float64 `yaml:"rate"`
	InitialAngleDeg float64 `yaml:"initial_angle_deg"`
	Height          float64 `yaml:"height"`
	InclinationDeg  float64 `yaml:"inclination_deg"`
}

type ellipseEntry struct {
	SemiMajorAU    float64 `yaml:"semi_major_au"`
	Eccentricity   float64 `yaml:"eccentricity"`
	InclinationDeg float64 `yaml:"inclination_deg"`
	PeriodYears    float64 `yaml:"period_years"`
}

type ringEntry struct {
	InnerScale float64 `yaml:"inner_scale"`
	OuterScale float64 `yaml:"outer_scale"`
	TiltDeg    float64 `yaml:"tilt_deg"`
	Texture    string  `yaml:"texture"`
}

func deg(d float64) float64 { return d * math.Pi / 180 }

// ParseCatalog decodes a YAML catalog into bodies, in file order.
func ParseCatalog(data []byte) ([]CelestialBody, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	out := make([]CelestialBody, 0, len(f.Bodies))
	for _, e := range f.Bodies {
		b, err := e.toBody()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (e catalogEntry) toBody() (CelestialBody, error) {
	b := CelestialBody{
		Name:       e.Name,
		Kind:       e.Kind,
		Radius:     e.Radius,
		TextureRef: e.Texture,
		Info:       e.Info,
		Parent:     e.Parent,
		Selectable: true,
	}
	if e.Selectable != nil {
		b.Selectable = *e.Selectable
	}

	if e.Color != "" {
		c, err := colorful.Hex(e.Color)
		if err != nil {
			return b, fmt.Errorf("%w: %q color %q: %v", ErrInvalid, e.Name, e.Color, err)
		}
		b.Color = c
	}

	if len(e.Position) > 0 {
		if len(e.Position) != 3 {
			return b, fmt.Errorf("%w: %q position needs 3 components, got %d", ErrInvalid, e.Name, len(e.Position))
		}
		b.Position = r3.Vec{X: e.Position[0], Y: e.Position[1], Z: e.Position[2]}
	}

	if o := e.Orbit; o != nil {
		radius := o.Radius
		if o.DistanceAU != 0 {
			radius = o.DistanceAU * SceneScale
		}
		b.Circular = &Circular{
			InitialAngle: deg(o.InitialAngleDeg),
			Radius:       radius,
			RateCoeff:    o.Rate,
			PlaneHeight:  o.Height,
			Inclination:  deg(o.InclinationDeg),
		}
	}

	if el := e.Ellipse; el != nil {
		p := NewOrbitalParameters(el.SemiMajorAU*SceneScale, el.Eccentricity, deg(el.InclinationDeg), el.PeriodYears)
		b.Elliptical = &p
	}

	if r := e.Ring; r != nil {
		b.Ring = &Ring{
			InnerScale: r.InnerScale,
			OuterScale: r.OuterScale,
			Tilt:       deg(r.TiltDeg),
			TextureRef: r.Texture,
		}
	}

	return b, nil
}

// DefaultCatalog returns the built-in solar system catalog.
func DefaultCatalog() ([]CelestialBody, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadDefault builds a registry from the built-in catalog.
func LoadDefault() (*Registry, error) {
	bodies, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return New(bodies...)
}
