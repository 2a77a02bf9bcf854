package scene

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/spacecommand/internal/body"
)

func orbitingScene(t *testing.T) *body.Registry {
	t.Helper()
	reg, err := body.New(
		body.CelestialBody{Name: "Sun", Kind: body.KindStar, Radius: 5, Selectable: true},
		body.CelestialBody{
			Name: "Mars", Kind: body.KindPlanet, Radius: 1, Selectable: true,
			Circular: &body.Circular{Radius: 10, RateCoeff: 1},
		},
	)
	require.NoError(t, err)
	return reg
}

// TestTrajectory verifies one row per body per frame and circular orbits
// keep their radius.
func TestTrajectory(t *testing.T) {
	rows, err := Trajectory(context.Background(), orbitingScene(t), testConfig(),
		TrajectoryOptions{Frames: 5, DT: 0.5}, testLogger())
	require.NoError(t, err)
	require.Len(t, rows, 10)

	assert.Equal(t, uint64(0), rows[0].Frame)
	assert.Zero(t, rows[0].Time)
	assert.InDelta(t, 2.0, rows[9].Time, 1e-12)

	for _, r := range rows {
		if r.Body != "Mars" {
			continue
		}
		assert.InDelta(t, 10, math.Hypot(r.X, r.Z), 1e-9)
	}
}

// TestTrajectoryFilterAndLimits verifies the body filter and option checks.
func TestTrajectoryFilterAndLimits(t *testing.T) {
	ctx := context.Background()

	rows, err := Trajectory(ctx, orbitingScene(t), testConfig(),
		TrajectoryOptions{Frames: 3, DT: 1, Bodies: []string{"Mars"}}, testLogger())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "Mars", r.Body)
	}

	bad := []TrajectoryOptions{
		{Frames: 0, DT: 1},
		{Frames: MaxTrajectoryFrames + 1, DT: 1},
		{Frames: 1, DT: 0},
		{Frames: 1, DT: math.NaN()},
		{Frames: 1, DT: 1, Bodies: []string{"Vulcan"}},
	}
	for _, opts := range bad {
		_, err := Trajectory(ctx, orbitingScene(t), testConfig(), opts, testLogger())
		assert.Error(t, err, "%+v", opts)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Trajectory(cancelled, orbitingScene(t), testConfig(), TrajectoryOptions{Frames: 3, DT: 1}, testLogger())
	assert.ErrorIs(t, err, context.Canceled)
}

// TestWriteTrajectoryCSV verifies the header and row layout.
func TestWriteTrajectoryCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTrajectoryCSV(&buf, []TrajectoryRow{
		{Frame: 1, Time: 0.5, Body: "Mars", X: 1, Y: 0, Z: -2},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "frame,t,body,x,y,z", lines[0])
	assert.Equal(t, "1,0.5,Mars,1,0,-2", lines[1])
}

// counterTotal sums every series of the named counter in the default
// registry.
func counterTotal(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// TestTrajectoryRecordsNoLiveMetrics verifies a headless export leaves the
// frame and history counters of the running service untouched.
func TestTrajectoryRecordsNoLiveMetrics(t *testing.T) {
	frames := counterTotal(t, "spacecommand_frames_total")
	evictions := counterTotal(t, "spacecommand_history_evictions_total")

	rows, err := Trajectory(context.Background(), orbitingScene(t), DefaultConfig(),
		TrajectoryOptions{Frames: 50, DT: 0.1}, testLogger())
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	assert.Equal(t, frames, counterTotal(t, "spacecommand_frames_total"))
	assert.Equal(t, evictions, counterTotal(t, "spacecommand_history_evictions_total"))
}
