package scene

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"

	"github.com/gocarina/gocsv"

	"github.com/star/spacecommand/internal/body"
)

// Trajectory export limits.
const (
	MaxTrajectoryFrames = 100000
	MaxTrajectoryDT     = 60.0
)

// TrajectoryRow is one body's position in one frame.
type TrajectoryRow struct {
	Frame uint64  `csv:"frame"`
	Time  float64 `csv:"t"`
	Body  string  `csv:"body"`
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Z     float64 `csv:"z"`
}

// TrajectoryOptions controls a headless run.
type TrajectoryOptions struct {
	Frames int
	DT     float64  // simulated seconds per frame
	Bodies []string // empty means every placed body
}

func (o TrajectoryOptions) validate(reg *body.Registry) error {
	if o.Frames < 1 || o.Frames > MaxTrajectoryFrames {
		return fmt.Errorf("frames %d must be in 1-%d", o.Frames, MaxTrajectoryFrames)
	}
	if !(o.DT > 0) || o.DT > MaxTrajectoryDT || math.IsInf(o.DT, 0) {
		return fmt.Errorf("dt %v must be in (0, %v]", o.DT, MaxTrajectoryDT)
	}
	for _, name := range o.Bodies {
		if _, err := reg.GetByName(name); err != nil {
			return err
		}
	}
	return nil
}

// Trajectory runs a private loop over reg for opts.Frames frames and
// returns the placed positions, frame by frame. reg must not be animated by
// any other loop. Telemetry is not applied, so tracked satellites are
// absent. The run stops early with ctx's error.
func Trajectory(ctx context.Context, reg *body.Registry, cfg Config, opts TrajectoryOptions, logger *slog.Logger) ([]TrajectoryRow, error) {
	if err := opts.validate(reg); err != nil {
		return nil, err
	}
	cfg.AsteroidCount = 0
	cfg.HistoryFrames = 1
	cfg.Headless = true

	l, err := NewLoop(reg, cfg, NewMemoryAllocator(), nil, logger)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	var rows []TrajectoryRow
	for i := 0; i < opts.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dt := opts.DT
		if i == 0 {
			dt = 0
		}
		l.Frame(dt)
		snap := l.Snapshot()
		for _, b := range snap.Bodies {
			if len(opts.Bodies) > 0 && !slices.Contains(opts.Bodies, b.Name) {
				continue
			}
			rows = append(rows, TrajectoryRow{
				Frame: snap.Frame,
				Time:  snap.Elapsed,
				Body:  b.Name,
				X:     b.Position[0],
				Y:     b.Position[1],
				Z:     b.Position[2],
			})
		}
	}
	return rows, nil
}

// WriteTrajectoryCSV writes rows with a header line.
func WriteTrajectoryCSV(w io.Writer, rows []TrajectoryRow) error {
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing trajectory csv: %w", err)
	}
	return nil
}
