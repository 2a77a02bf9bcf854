// Package planet validates procedural planet requests and maps them to a
// deterministic preview description. The same form always produces the
// same preview.
package planet

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode/utf8"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ErrInvalidForm is returned for a form that fails validation.
var ErrInvalidForm = errors.New("invalid planet form")

// Gravity bounds, in G.
const (
	MinGravity = 0.1
	MaxGravity = 3.0
	maxSeedLen = 50
)

var (
	biomeColors = map[string]string{
		"desert":   "#ca8a04",
		"forest":   "#16a34a",
		"ocean":    "#2563eb",
		"ice":      "#7dd3fc",
		"volcanic": "#b91c1c",
		"barren":   "#6b7280",
	}

	terrainGradients = map[string][2]string{
		"mountainous":   {"#374151", "#111827"},
		"flatlands":     {"#4ade80", "#fde047"},
		"canyons":       {"#ea580c", "#a16207"},
		"islands":       {"#3b82f6", "#86efac"},
		"rolling_hills": {"#84cc16", "#34d399"},
	}

	terrainDisplacement = map[string]float64{
		"mountainous":   0.12,
		"flatlands":     0.01,
		"canyons":       0.08,
		"islands":       0.04,
		"rolling_hills": 0.03,
	}

	atmosphereOpacity = map[string]float64{
		"none":     0,
		"thin":     0.15,
		"moderate": 0.35,
		"thick":    0.6,
		"toxic":    0.5,
	}
)

const (
	cloudTint = "#ffffff"
	toxicTint = "#9acd32"
)

// Form is a planet generator request.
type Form struct {
	Seed       string  `json:"seed"`
	Biome      string  `json:"biome"`
	Terrain    string  `json:"terrain"`
	Atmosphere string  `json:"atmosphere"`
	Gravity    float64 `json:"gravity"`
}

// DefaultForm returns the form's initial values for seed.
func DefaultForm(seed string) Form {
	return Form{Seed: seed, Biome: "desert", Terrain: "mountainous", Atmosphere: "moderate", Gravity: 1.0}
}

// FieldError names the offending field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidForm
}

// Validate checks every field and returns the first failure as a
// *FieldError.
func (f Form) Validate() error {
	switch n := utf8.RuneCountInString(f.Seed); {
	case strings.TrimSpace(f.Seed) == "":
		return &FieldError{"seed", "Seed is required"}
	case n > maxSeedLen:
		return &FieldError{"seed", "Seed too long"}
	}
	if _, ok := biomeColors[f.Biome]; !ok {
		return &FieldError{"biome", fmt.Sprintf("unknown biome %q", f.Biome)}
	}
	if _, ok := terrainGradients[f.Terrain]; !ok {
		return &FieldError{"terrain", fmt.Sprintf("unknown terrain %q", f.Terrain)}
	}
	if _, ok := atmosphereOpacity[f.Atmosphere]; !ok {
		return &FieldError{"atmosphere", fmt.Sprintf("unknown atmosphere %q", f.Atmosphere)}
	}
	switch {
	case math.IsNaN(f.Gravity) || f.Gravity < MinGravity:
		return &FieldError{"gravity", "Gravity must be at least 0.1 G"}
	case f.Gravity > MaxGravity:
		return &FieldError{"gravity", "Gravity cannot exceed 3 G"}
	}
	return nil
}

// Preview describes how to draw a generated planet.
type Preview struct {
	Seed          string    `json:"seed"`
	Label         string    `json:"label"`
	Biome         string    `json:"biome"`
	Terrain       string    `json:"terrain"`
	Atmosphere    string    `json:"atmosphere"`
	Gravity       float64   `json:"gravity"`
	BaseColor     string    `json:"base_color"`
	SurfaceColors [2]string `json:"surface_colors"`
	CloudColor    string    `json:"cloud_color"`
	CloudOpacity  float64   `json:"cloud_opacity"`
	Displacement  float64   `json:"displacement"`
	Scale         float64   `json:"scale"`
	Rotation      float64   `json:"rotation"`
}

// Generate validates f and maps it to a preview.
func Generate(f Form) (Preview, error) {
	if err := f.Validate(); err != nil {
		return Preview{}, err
	}

	h := seedHash(f.Seed)
	base := jitter(mustHex(biomeColors[f.Biome]), h)
	grad := terrainGradients[f.Terrain]
	from := mustHex(grad[0]).BlendLab(base, 0.35)
	to := mustHex(grad[1]).BlendLab(base, 0.35)

	cloud := cloudTint
	if f.Atmosphere == "toxic" {
		cloud = toxicTint
	}

	return Preview{
		Seed:          f.Seed,
		Label:         "Planet Preview: " + prefix(f.Seed, 8),
		Biome:         displayName(f.Biome),
		Terrain:       displayName(f.Terrain),
		Atmosphere:    displayName(f.Atmosphere),
		Gravity:       f.Gravity,
		BaseColor:     base.Hex(),
		SurfaceColors: [2]string{from.Clamped().Hex(), to.Clamped().Hex()},
		CloudColor:    cloud,
		CloudOpacity:  atmosphereOpacity[f.Atmosphere],
		Displacement:  terrainDisplacement[f.Terrain],
		Scale:         0.75 + 0.25*f.Gravity,
		Rotation:      float64(h%3600) / 3600 * 2 * math.Pi,
	}, nil
}

func seedHash(seed string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return h.Sum64()
}

// jitter shifts c in HCL space by up to ±12° of hue and ±0.05 luminance,
// chosen from h.
func jitter(c colorful.Color, h uint64) colorful.Color {
	hue, chroma, lum := c.Hcl()
	dh := (float64(h&0xffff)/0xffff*2 - 1) * 12
	dl := (float64((h>>16)&0xffff)/0xffff*2 - 1) * 0.05
	hue = math.Mod(hue+dh+360, 360)
	lum = math.Max(0, math.Min(1, lum+dl))
	return colorful.Hcl(hue, chroma, lum).Clamped()
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(fmt.Sprintf("planet: bad colour %q: %v", s, err))
	}
	return c
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// displayName turns "rolling_hills" into "Rolling Hills".
func displayName(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
