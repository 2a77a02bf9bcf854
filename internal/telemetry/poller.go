package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/spacecommand/internal/metrics"
)

// Poller fetches from a Source on a fixed interval. Reads are lock-free.
type Poller struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	latest atomic.Pointer[Position]
	status atomic.Pointer[Status]
}

// NewPoller returns a poller for src. It does nothing until Run is called.
func NewPoller(src Source, interval time.Duration, logger *slog.Logger) *Poller {
	p := &Poller{
		src:      src,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
	p.status.Store(&Status{Source: src.Name()})
	return p
}

// Latest returns the last valid position.
func (p *Poller) Latest() (Position, bool) {
	pos := p.latest.Load()
	if pos == nil {
		return Position{}, false
	}
	return *pos, true
}

// Status returns the outcome of the most recent attempt.
func (p *Poller) Status() Status {
	return *p.status.Load()
}

// Run polls immediately and then every interval until ctx is cancelled. A
// failed fetch keeps the previous position and is retried on the next tick.
// Nothing is mutated once Run has returned.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("telemetry poller started",
		"source", p.src.Name(),
		"interval_seconds", p.interval.Seconds(),
	)

	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("telemetry poller stopped")
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs a single fetch. It is a no-op once ctx is cancelled.
func (p *Poller) Poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := p.now()
	pos, err := p.src.Fetch(ctx)
	if err == nil {
		err = pos.Validate()
	}
	if ctx.Err() != nil {
		// Cancelled mid-flight; drop the result.
		return
	}

	prev := p.Status()
	next := Status{
		Source:      p.src.Name(),
		LastAttempt: start,
		LastSuccess: prev.LastSuccess,
	}

	if err != nil {
		next.Error = err.Error()
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		p.status.Store(&next)
		metrics.IncTelemetryFetches("error")
		p.logger.Warn("telemetry fetch failed",
			"source", p.src.Name(),
			"consecutive_failures", next.ConsecutiveFailures,
			"error", err,
		)
		return
	}

	next.OK = true
	next.LastSuccess = start
	p.latest.Store(&pos)
	p.status.Store(&next)
	metrics.IncTelemetryFetches("ok")
	metrics.SetTelemetryAge(p.now().Sub(pos.Time()).Seconds())
	p.logger.Debug("telemetry updated",
		"latitude", pos.Latitude,
		"longitude", pos.Longitude,
		"altitude_km", pos.Altitude,
	)
}
