package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/config"
	"github.com/star/spacecommand/internal/scene"
)

type options struct {
	verbose    bool
	configPath string

	frames int
	dt     float64
	csv    string
	bodies []string
	seed   int64
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "orbitdump",
		Short:         "Headless solar-system runs with CSV export",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML file overriding the built-in defaults")

	root.AddCommand(newRunCmd(opts), newBodiesCmd(), newConfigCmd(opts))
	return root
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Advance the simulation and write body positions",
		Long: `Run advances a private copy of the scene for --frames frames of --dt
simulated seconds each and writes one CSV row per body per frame:

  frame,t,body,x,y,z

Tracked satellites need live telemetry and are never included.

Examples:
  orbitdump run --frames 600 --dt 0.0333 --csv orbits.csv
  orbitdump run --bodies Earth,Moon,Mars`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrajectory(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.frames, "frames", 300, "frames to simulate")
	f.Float64Var(&opts.dt, "dt", 1.0/30, "simulated seconds per frame")
	f.StringVar(&opts.csv, "csv", "-", "output file, - for stdout")
	f.StringSliceVar(&opts.bodies, "bodies", nil, "comma-separated body names (default all)")
	f.Int64Var(&opts.seed, "seed", 0, "override the configured random seed")
	return cmd
}

func runTrajectory(cmd *cobra.Command, opts *options) error {
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	sceneCfg := cfg.SceneConfig()
	if cmd.Flags().Changed("seed") {
		sceneCfg.Seed = opts.seed
	}

	reg, err := body.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading body catalog: %w", err)
	}
	rows, err := scene.Trajectory(cmd.Context(), reg, sceneCfg, scene.TrajectoryOptions{
		Frames: opts.frames,
		DT:     opts.dt,
		Bodies: opts.bodies,
	}, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.csv != "-" {
		f, err := os.Create(opts.csv)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := scene.WriteTrajectoryCSV(out, rows); err != nil {
		return err
	}
	logger.Info("trajectory written", "rows", len(rows), "frames", opts.frames, "output", opts.csv)
	return nil
}

func newBodiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bodies",
		Short: "List the bodies in the built-in catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := body.LoadDefault()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tORBIT\tPARENT")
			for _, b := range reg.GetAll() {
				parent := b.Parent
				if parent == "" {
					parent = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Name, b.Kind, b.Mode(), parent)
			}
			return tw.Flush()
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return cfg.WriteYAML(out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "spacecommand.yaml", "destination file")
	return cmd
}
