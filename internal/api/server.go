// Package api wires the HTTP surface: routes, middleware and per-IP rate
// limits.
package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/spacecommand/internal/assistant"
	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/health"
	"github.com/star/spacecommand/internal/httputil"
	"github.com/star/spacecommand/internal/metrics"
	"github.com/star/spacecommand/internal/mission"
	"github.com/star/spacecommand/internal/scene"
	"github.com/star/spacecommand/internal/stream"
)

// Scene is the part of *scene.Loop the handlers use.
type Scene interface {
	stream.Scene
	Ready() bool
}

// PeopleSource reports the latest people-in-space document.
type PeopleSource interface {
	State() assistant.PeopleState
}

// Config holds listener settings and HTTP rate limits.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TrustProxy   bool

	AssistantRPS   float64
	AssistantBurst int
	CommandRPS     float64
	CommandBurst   int

	CommandTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Deps are the components the handlers serve. Telemetry and People may be
// nil when disabled.
type Deps struct {
	Scene       Scene
	SceneConfig scene.Config
	Stream      *stream.Handler
	Telemetry   scene.TelemetryFeed
	Assistant   *assistant.Service
	People      PeopleSource
	Missions    *mission.Store
	// Catalog builds a fresh registry for headless trajectory runs.
	Catalog func() (*body.Registry, error)
	Static  fs.FS
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	deps       Deps
	cfg        Config
	logger     *slog.Logger

	assistantLimiter *httputil.IPRateLimiter
	commandLimiter   *httputil.IPRateLimiter
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		deps:             deps,
		cfg:              cfg,
		logger:           logger,
		assistantLimiter: httputil.NewIPRateLimiter(rate.Limit(cfg.AssistantRPS), cfg.AssistantBurst),
		commandLimiter:   httputil.NewIPRateLimiter(rate.Limit(cfg.CommandRPS), cfg.CommandBurst),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	// Build middleware chain: metrics -> request id -> logging -> mux.
	var handler http.Handler = mux
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = requestIDMiddleware(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	assistantLimit := s.assistantLimiter.Middleware("assistant", s.cfg.TrustProxy, s.logger)
	commandLimit := s.commandLimiter.Middleware("command", s.cfg.TrustProxy, s.logger)
	limited := func(mw func(http.Handler) http.Handler, h http.HandlerFunc) http.Handler {
		return mw(h)
	}

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(s.deps.Scene.Ready))
	mux.Handle("GET /metrics", metrics.Handler())
	if s.deps.Static != nil {
		mux.Handle("GET /", http.FileServerFS(s.deps.Static))
	}

	mux.HandleFunc("GET /api/v1/bodies", s.handleBodies)
	mux.HandleFunc("GET /api/v1/bodies/{name}", s.handleBody)
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	mux.Handle("POST /api/v1/pick", limited(commandLimit, s.handlePick))
	mux.Handle("POST /api/v1/resize", limited(commandLimit, s.handleResize))
	mux.Handle("POST /api/v1/camera", limited(commandLimit, s.handleCamera))
	mux.HandleFunc("GET /api/v1/selection", s.handleSelection)
	mux.Handle("DELETE /api/v1/selection", limited(commandLimit, s.handleClearSelection))
	mux.HandleFunc("GET /api/v1/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/v1/stream/frames", s.deps.Stream.HandleFrames)
	mux.HandleFunc("GET /api/v1/ws", s.deps.Stream.HandleWS)

	mux.Handle("POST /api/v1/assistant/chat", limited(assistantLimit, s.handleChat))
	mux.Handle("POST /api/v1/assistant/explain", limited(assistantLimit, s.handleExplain))
	mux.HandleFunc("GET /api/v1/quiz/daily", s.handleDailyQuiz)
	mux.Handle("POST /api/v1/quiz/daily/answer", limited(assistantLimit, s.handleDailyQuizAnswer))
	mux.HandleFunc("GET /api/v1/people-in-space", s.handlePeople)

	mux.HandleFunc("GET /api/v1/missions/{id}", s.handleMission)
	mux.Handle("POST /api/v1/missions/{id}/objectives/{objective}", limited(commandLimit, s.handleCompleteObjective))
	mux.Handle("POST /api/v1/missions/{id}/crew/{name}", limited(commandLimit, s.handleCrew))
	mux.Handle("POST /api/v1/missions/{id}/reset", limited(commandLimit, s.handleMissionReset))

	mux.Handle("POST /api/v1/planets/preview", limited(commandLimit, s.handlePlanetPreview))
	mux.Handle("GET /api/v1/trajectory.csv", limited(commandLimit, s.handleTrajectory))
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Limiters returns the per-IP limiters so the caller can sweep idle entries.
func (s *Server) Limiters() []*httputil.IPRateLimiter {
	return []*httputil.IPRateLimiter{s.assistantLimiter, s.commandLimiter}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled. See Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Request contexts derive from ctx, so long-lived streams end
// as soon as shutdown begins instead of holding Shutdown until its timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", ln.Addr().String())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server serve: %w", err)
	}
	return nil
}
