// Package config loads service configuration from embedded YAML defaults
// and an optional override file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/star/spacecommand/internal/scene"
	"github.com/star/spacecommand/internal/stream"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Telemetry source kinds.
const (
	SourceHTTP = "http"
	SourceSGP4 = "sgp4"
)

// Config holds all service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Simulation SimulationConfig `yaml:"simulation"`
	Camera     CameraConfig     `yaml:"camera"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Stream     StreamConfig     `yaml:"stream"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustProxy      bool          `yaml:"trust_proxy"` // honour X-Forwarded-For / X-Real-IP
}

// SimulationConfig holds frame loop settings.
type SimulationConfig struct {
	FPS           int     `yaml:"fps"`
	MaxDelta      float64 `yaml:"max_delta"`
	TimeScale     float64 `yaml:"time_scale"`
	AsteroidCount int     `yaml:"asteroid_count"`
	Seed          int64   `yaml:"seed"`
	HistoryFrames int     `yaml:"history_frames"`
	TrackedBody   string  `yaml:"tracked_body"`
	KmPerUnit     float64 `yaml:"km_per_unit"`
}

// CameraConfig holds the initial camera and orbit-control limits.
type CameraConfig struct {
	Width       int        `yaml:"width"`
	Height      int        `yaml:"height"`
	FOVDeg      float64    `yaml:"fov_deg"`
	Near        float64    `yaml:"near"`
	Far         float64    `yaml:"far"`
	Position    [3]float64 `yaml:"position"`
	Damping     float64    `yaml:"damping"`
	MinDistance float64    `yaml:"min_distance"`
	MaxDistance float64    `yaml:"max_distance"`
}

// TelemetryConfig selects and tunes the tracked-satellite source.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Source   string        `yaml:"source"`
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	TLEFile  string        `yaml:"tle_file"`
	TLEName  string        `yaml:"tle_name"`
}

// AssistantConfig tunes the generative-text collaborator and the
// people-in-space refresher. The API key comes from the environment only.
type AssistantConfig struct {
	APIKey          string        `yaml:"-"`
	Model           string        `yaml:"model"`
	Temperature     float32       `yaml:"temperature"`
	MaxOutputTokens int32         `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
	PeopleURL       string        `yaml:"people_url"`
	PeopleInterval  time.Duration `yaml:"people_interval"`
	PeopleTimeout   time.Duration `yaml:"people_timeout"`
}

// StreamConfig mirrors stream.Config.
type StreamConfig struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
	MaxTotal           int           `yaml:"max_total"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	DefaultFPS         int           `yaml:"default_fps"`
	MaxFPS             int           `yaml:"max_fps"`
	MaxTrail           int           `yaml:"max_trail"`
	MaxAsteroids       int           `yaml:"max_asteroids"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	CommandRate        float64       `yaml:"command_rate"`
	CommandBurst       int           `yaml:"command_burst"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
}

// RateLimitConfig holds per-IP token buckets for HTTP routes.
type RateLimitConfig struct {
	AssistantRPS   float64       `yaml:"assistant_rps"`
	AssistantBurst int           `yaml:"assistant_burst"`
	CommandRPS     float64       `yaml:"command_rps"`
	CommandBurst   int           `yaml:"command_burst"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxIdle        time.Duration `yaml:"max_idle"`
}

// DerivedConfig holds values computed from the loaded fields.
type DerivedConfig struct {
	FrameInterval  time.Duration
	FOVRad         float64
	CameraDistance float64
}

// Load reads the embedded defaults, overlays the YAML file at path when it
// is not empty, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only fields present in the file are overwritten.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize validates the configuration and recomputes derived values. Call
// it again after changing fields.
func (c *Config) Finalize() error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.computeDerived()
	return nil
}

func (c *Config) computeDerived() {
	c.Derived.FrameInterval = time.Second / time.Duration(c.Simulation.FPS)
	c.Derived.FOVRad = c.Camera.FOVDeg * math.Pi / 180
	p := c.Camera.Position
	c.Derived.CameraDistance = math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.HTTP.Addr != "", "http.addr is required")
	check(c.HTTP.ShutdownTimeout > 0, "http.shutdown_timeout must be positive")

	s := c.Simulation
	check(s.FPS > 0 && s.FPS <= 240, "simulation.fps %d must be in 1-240", s.FPS)
	check(s.MaxDelta > 0, "simulation.max_delta must be positive")
	check(s.TimeScale >= 0, "simulation.time_scale must not be negative")
	check(s.AsteroidCount >= 0, "simulation.asteroid_count must not be negative")
	check(s.HistoryFrames > 0, "simulation.history_frames must be positive")
	check(s.KmPerUnit > 0, "simulation.km_per_unit must be positive")

	cam := c.Camera
	check(cam.Width > 0 && cam.Height > 0, "camera size %dx%d must be positive", cam.Width, cam.Height)
	check(cam.FOVDeg > 0 && cam.FOVDeg < 180, "camera.fov_deg %v must be in (0,180)", cam.FOVDeg)
	check(cam.Near > 0 && cam.Far > cam.Near, "camera near/far %v/%v invalid", cam.Near, cam.Far)
	check(cam.Damping > 0 && cam.Damping <= 1, "camera.damping %v must be in (0,1]", cam.Damping)
	check(cam.MinDistance > 0 && cam.MaxDistance >= cam.MinDistance,
		"camera distance limits %v-%v invalid", cam.MinDistance, cam.MaxDistance)

	t := c.Telemetry
	if t.Enabled {
		check(t.Source == SourceHTTP || t.Source == SourceSGP4, "telemetry.source %q must be http or sgp4", t.Source)
		check(t.Interval > 0, "telemetry.interval must be positive")
		check(t.Source != SourceSGP4 || t.TLEFile != "", "telemetry.tle_file is required for sgp4")
	}

	a := c.Assistant
	check(a.Temperature >= 0 && a.Temperature <= 2, "assistant.temperature %v must be in 0-2", a.Temperature)
	check(a.MaxOutputTokens > 0, "assistant.max_output_tokens must be positive")
	check(a.Timeout > 0, "assistant.timeout must be positive")
	check(a.PeopleInterval > 0, "assistant.people_interval must be positive")

	st := c.Stream
	check(st.MaxConcurrentPerIP > 0, "stream.max_concurrent_per_ip must be positive")
	check(st.MaxFPS > 0 && st.DefaultFPS > 0 && st.DefaultFPS <= st.MaxFPS,
		"stream fps default %d / max %d invalid", st.DefaultFPS, st.MaxFPS)

	r := c.RateLimit
	check(r.AssistantRPS > 0 && r.AssistantBurst > 0, "ratelimit assistant bucket must be positive")
	check(r.CommandRPS > 0 && r.CommandBurst > 0, "ratelimit command bucket must be positive")

	return errors.Join(errs...)
}

// SceneConfig converts the simulation and camera sections.
func (c *Config) SceneConfig() scene.Config {
	p := c.Camera.Position
	return scene.Config{
		FPS:            c.Simulation.FPS,
		MaxDelta:       c.Simulation.MaxDelta,
		TimeScale:      c.Simulation.TimeScale,
		Width:          c.Camera.Width,
		Height:         c.Camera.Height,
		FOV:            c.Camera.FOVDeg,
		Near:           c.Camera.Near,
		Far:            c.Camera.Far,
		CameraPosition: r3.Vec{X: p[0], Y: p[1], Z: p[2]},
		Damping:        c.Camera.Damping,
		MinDistance:    c.Camera.MinDistance,
		MaxDistance:    c.Camera.MaxDistance,
		AsteroidCount:  c.Simulation.AsteroidCount,
		Seed:           c.Simulation.Seed,
		HistoryFrames:  c.Simulation.HistoryFrames,
		TrackedBody:    c.Simulation.TrackedBody,
		KmPerUnit:      c.Simulation.KmPerUnit,
	}
}

// StreamConfig converts the stream section.
func (c *Config) StreamConfig() stream.Config {
	s := c.Stream
	return stream.Config{
		MaxConcurrentPerIP: s.MaxConcurrentPerIP,
		MaxTotal:           s.MaxTotal,
		KeepaliveInterval:  s.KeepaliveInterval,
		WriteTimeout:       s.WriteTimeout,
		DefaultFPS:         s.DefaultFPS,
		MaxFPS:             s.MaxFPS,
		MaxTrail:           s.MaxTrail,
		MaxAsteroids:       s.MaxAsteroids,
		TrustProxy:         c.HTTP.TrustProxy,
		PingInterval:       s.PingInterval,
		CommandRate:        s.CommandRate,
		CommandBurst:       s.CommandBurst,
		CommandTimeout:     s.CommandTimeout,
		AllowedOrigins:     s.AllowedOrigins,
	}
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
