package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/spacecommand/internal/scene"
)

// TestLoadDefaults verifies the embedded defaults load and match the
// scene's own defaults.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.Interval)
	assert.Equal(t, SourceHTTP, cfg.Telemetry.Source)
	assert.Equal(t, 60*time.Second, cfg.Assistant.PeopleInterval)
	assert.Equal(t, scene.DefaultConfig(), cfg.SceneConfig())

	assert.Equal(t, time.Second/30, cfg.Derived.FrameInterval)
	assert.InDelta(t, 1.309, cfg.Derived.FOVRad, 1e-3)
	assert.InDelta(t, 75, cfg.Derived.CameraDistance, 1e-9)
}

// TestLoadOverlay verifies a user file only replaces the fields it names.
func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("simulation:\n  fps: 60\nstream:\n  allowed_origins: [\"http://localhost:8080\"]\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Simulation.FPS)
	assert.Equal(t, 1000, cfg.Simulation.AsteroidCount)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.StreamConfig().AllowedOrigins)
	assert.Equal(t, time.Second/60, cfg.Derived.FrameInterval)
}

// TestLoadErrors verifies unreadable, malformed and invalid files fail.
func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", "simulation: [\n"},
		{"zero fps", "simulation:\n  fps: 0\n"},
		{"bad source", "telemetry:\n  source: carrier-pigeon\n"},
		{"sgp4 without file", "telemetry:\n  source: sgp4\n"},
		{"inverted distance", "camera:\n  min_distance: 10\n  max_distance: 5\n"},
		{"stream fps over max", "stream:\n  default_fps: 50\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// TestValidateCollectsAll verifies every invalid field is reported.
func TestValidateCollectsAll(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Simulation.FPS = 0
	cfg.Camera.Width = 0
	cfg.RateLimit.CommandRPS = 0

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulation.fps")
	assert.Contains(t, err.Error(), "camera size")
	assert.Contains(t, err.Error(), "command bucket")
}

// TestWriteYAMLRoundTrip verifies a written config loads back unchanged.
func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Simulation.TimeScale = 10

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
