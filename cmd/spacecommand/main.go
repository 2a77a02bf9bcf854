package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/spacecommand/internal/api"
	"github.com/star/spacecommand/internal/assistant"
	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/config"
	"github.com/star/spacecommand/internal/mission"
	"github.com/star/spacecommand/internal/scene"
	"github.com/star/spacecommand/internal/stream"
	"github.com/star/spacecommand/internal/telemetry"
	"github.com/star/spacecommand/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	configPath := flag.String("config", os.Getenv("SPACECOMMAND_CONFIG"), "YAML file overriding the built-in defaults")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	applyEnv(cfg, logger)
	if err := cfg.Finalize(); err != nil {
		logger.Error("invalid configuration after environment overrides", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	reg, err := body.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading body catalog: %w", err)
	}

	var (
		poller *telemetry.Poller
		feed   scene.TelemetryFeed
	)
	if cfg.Telemetry.Enabled {
		src, err := telemetrySource(cfg.Telemetry, logger)
		if err != nil {
			return err
		}
		poller = telemetry.NewPoller(src, cfg.Telemetry.Interval, logger)
		feed = poller
	}

	sceneCfg := cfg.SceneConfig()
	loop, err := scene.NewLoop(reg, sceneCfg, scene.NewMemoryAllocator(), feed, logger)
	if err != nil {
		return fmt.Errorf("building scene: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var gen assistant.Generator
	if cfg.Assistant.APIKey != "" {
		g, err := assistant.NewGenAIGenerator(ctx, cfg.Assistant.APIKey, cfg.Assistant.Model,
			cfg.Assistant.Temperature, cfg.Assistant.MaxOutputTokens)
		if err != nil {
			logger.Warn("assistant disabled, generator setup failed", "error", err)
		} else {
			gen = g
		}
	} else {
		logger.Info("assistant disabled, no API key set")
	}
	assist := assistant.NewService(gen, cfg.Assistant.Timeout, logger)

	people := assistant.NewPeopleRefresher(
		assistant.NewPeopleFetcher(cfg.Assistant.PeopleURL, cfg.Assistant.PeopleTimeout),
		cfg.Assistant.PeopleInterval, logger)

	missions := mission.NewStore(mission.DefaultTaskDelay(rand.New(rand.NewSource(time.Now().UnixNano()))), logger)
	defer missions.Close()

	deps := api.Deps{
		Scene:       loop,
		SceneConfig: sceneCfg,
		Stream:      stream.NewHandler(loop, cfg.StreamConfig(), logger),
		Assistant:   assist,
		People:      people,
		Missions:    missions,
		Catalog:     body.LoadDefault,
		Static:      web.Content,
	}
	if poller != nil {
		deps.Telemetry = poller
	}

	srv := api.NewServer(api.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		TrustProxy:      cfg.HTTP.TrustProxy,
		AssistantRPS:    cfg.RateLimit.AssistantRPS,
		AssistantBurst:  cfg.RateLimit.AssistantBurst,
		CommandRPS:      cfg.RateLimit.CommandRPS,
		CommandBurst:    cfg.RateLimit.CommandBurst,
		CommandTimeout:  cfg.Stream.CommandTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, deps, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if poller != nil {
		g.Go(func() error { return poller.Run(gctx) })
	}
	g.Go(func() error { return people.Run(gctx) })
	for _, l := range srv.Limiters() {
		g.Go(func() error {
			l.Run(gctx, cfg.RateLimit.SweepInterval, cfg.RateLimit.MaxIdle)
			return nil
		})
	}
	logger.Info("service starting",
		"addr", cfg.HTTP.Addr,
		"telemetry_enabled", cfg.Telemetry.Enabled,
		"assistant_enabled", assist.Enabled(),
	)
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	return g.Wait()
}

func telemetrySource(cfg config.TelemetryConfig, logger *slog.Logger) (telemetry.Source, error) {
	if cfg.Source == config.SourceHTTP {
		return telemetry.NewHTTPSource(cfg.URL, cfg.Timeout), nil
	}

	f, err := os.Open(cfg.TLEFile)
	if err != nil {
		return nil, fmt.Errorf("opening TLE file: %w", err)
	}
	defer f.Close()
	elements, err := telemetry.ParseElements(f, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing TLE file: %w", err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("TLE file %s has no elements", cfg.TLEFile)
	}
	el := elements[0]
	if cfg.TLEName != "" {
		found := false
		for _, e := range elements {
			if e.Name == cfg.TLEName {
				el, found = e, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("TLE file %s has no element named %q", cfg.TLEFile, cfg.TLEName)
		}
	}
	logger.Info("using SGP4 telemetry", "name", el.Name, "norad_id", el.NORADID, "epoch", el.Epoch.Format(time.RFC3339))
	return telemetry.NewSGP4Source(el)
}

// applyEnv overlays SPACECOMMAND_* variables. Invalid values are logged and
// ignored.
func applyEnv(cfg *config.Config, logger *slog.Logger) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Assistant.APIKey = key
	}
	if key := os.Getenv("SPACECOMMAND_ASSISTANT_API_KEY"); key != "" {
		cfg.Assistant.APIKey = key
	}

	if v := os.Getenv("SPACECOMMAND_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	envBool(logger, "SPACECOMMAND_TRUST_PROXY", &cfg.HTTP.TrustProxy)
	logger.Info("http config",
		"addr", cfg.HTTP.Addr,
		"trust_proxy", cfg.HTTP.TrustProxy,
		"shutdown_timeout_seconds", cfg.HTTP.ShutdownTimeout.Seconds(),
	)

	envInt(logger, "SPACECOMMAND_FPS", &cfg.Simulation.FPS)
	envInt(logger, "SPACECOMMAND_ASTEROID_COUNT", &cfg.Simulation.AsteroidCount)
	envFloat(logger, "SPACECOMMAND_TIME_SCALE", &cfg.Simulation.TimeScale)
	if v := os.Getenv("SPACECOMMAND_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logger.Warn("invalid SPACECOMMAND_SEED value, using default", "value", v, "default", cfg.Simulation.Seed)
		} else {
			cfg.Simulation.Seed = n
		}
	}
	logger.Info("simulation config",
		"fps", cfg.Simulation.FPS,
		"time_scale", cfg.Simulation.TimeScale,
		"asteroid_count", cfg.Simulation.AsteroidCount,
		"history_frames", cfg.Simulation.HistoryFrames,
	)

	envBool(logger, "SPACECOMMAND_TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	if v := os.Getenv("SPACECOMMAND_TELEMETRY_SOURCE"); v != "" {
		cfg.Telemetry.Source = v
	}
	if v := os.Getenv("SPACECOMMAND_TELEMETRY_URL"); v != "" {
		cfg.Telemetry.URL = v
	}
	if v := os.Getenv("SPACECOMMAND_TLE_FILE"); v != "" {
		cfg.Telemetry.TLEFile = v
	}
	envSeconds(logger, "SPACECOMMAND_TELEMETRY_INTERVAL", &cfg.Telemetry.Interval)
	logger.Info("telemetry config",
		"enabled", cfg.Telemetry.Enabled,
		"source", cfg.Telemetry.Source,
		"interval_seconds", cfg.Telemetry.Interval.Seconds(),
	)

	if v := os.Getenv("SPACECOMMAND_ASSISTANT_MODEL"); v != "" {
		cfg.Assistant.Model = v
	}
	if v := os.Getenv("SPACECOMMAND_PEOPLE_URL"); v != "" {
		cfg.Assistant.PeopleURL = v
	}
	logger.Info("assistant config",
		"model", cfg.Assistant.Model,
		"api_key_set", cfg.Assistant.APIKey != "",
		"timeout_seconds", cfg.Assistant.Timeout.Seconds(),
	)

	envInt(logger, "SPACECOMMAND_STREAM_MAX_CONCURRENT", &cfg.Stream.MaxConcurrentPerIP)
	envSeconds(logger, "SPACECOMMAND_STREAM_KEEPALIVE_INTERVAL", &cfg.Stream.KeepaliveInterval)
	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.Stream.MaxConcurrentPerIP,
		"max_total", cfg.Stream.MaxTotal,
		"keepalive_interval_seconds", cfg.Stream.KeepaliveInterval.Seconds(),
	)

	envFloat(logger, "SPACECOMMAND_ASSISTANT_RPS", &cfg.RateLimit.AssistantRPS)
	envFloat(logger, "SPACECOMMAND_COMMAND_RPS", &cfg.RateLimit.CommandRPS)
	logger.Info("ratelimit config",
		"assistant_rps", cfg.RateLimit.AssistantRPS,
		"assistant_burst", cfg.RateLimit.AssistantBurst,
		"command_rps", cfg.RateLimit.CommandRPS,
		"command_burst", cfg.RateLimit.CommandBurst,
	)
}

func envInt(logger *slog.Logger, name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envFloat(logger *slog.Logger, name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = f
}

func envBool(logger *slog.Logger, name string, dst *bool) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = b
}

// envSeconds reads a whole number of seconds.
func envSeconds(logger *slog.Logger, name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", int(dst.Seconds()))
		return
	}
	*dst = time.Duration(n) * time.Second
}
