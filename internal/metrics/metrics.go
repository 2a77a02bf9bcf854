package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacecommand_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacecommand_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	framesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spacecommand_frames_total",
		Help: "Simulation frames published.",
	})

	frameDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spacecommand_frame_duration_seconds",
		Help:    "Time spent computing one frame.",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	})

	picksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spacecommand_picks_total",
		Help: "Pick queries by result (hit, miss).",
	}, []string{"result"})

	historyLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spacecommand_history_lookups_total",
		Help: "Frame history lookups by result (hit, miss).",
	}, []string{"result"})

	historyEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spacecommand_history_evictions_total",
		Help: "Frames evicted from history.",
	})

	telemetryFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spacecommand_telemetry_fetches_total",
		Help: "Telemetry fetch attempts by result (ok, error).",
	}, []string{"result"})

	telemetryAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spacecommand_telemetry_age_seconds",
		Help: "Age of the latest telemetry sample at fetch time.",
	})

	assistantRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spacecommand_assistant_requests_total",
		Help: "Generative-text requests by flow and result.",
	}, []string{"flow", "result"})

	assistantDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spacecommand_assistant_duration_seconds",
		Help:    "Generative-text request latency.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"flow"})

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spacecommand_streams_active",
		Help: "Open SSE and websocket connections.",
	})

	streamConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spacecommand_stream_connections_total",
		Help: "Stream connection events (connect, disconnect).",
	}, []string{"event"})

	streamMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spacecommand_stream_messages_total",
		Help: "Stream messages sent.",
	})

	streamBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spacecommand_stream_bytes_total",
		Help: "Stream bytes sent.",
	})

	streamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spacecommand_stream_errors_total",
		Help: "Stream errors by reason.",
	}, []string{"reason"})

	wsCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spacecommand_ws_commands_total",
		Help: "Websocket control commands by type.",
	}, []string{"type"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spacecommand_rate_limited_total",
		Help: "Requests rejected by the per-IP limiter.",
	}, []string{"scope"})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		framesTotal,
		frameDurationSeconds,
		picksTotal,
		historyLookups,
		historyEvictions,
		telemetryFetches,
		telemetryAgeSeconds,
		assistantRequests,
		assistantDuration,
		streamsActive,
		streamConnections,
		streamMessages,
		streamBytes,
		streamErrors,
		wsCommands,
		rateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveFrame(d time.Duration) {
	framesTotal.Inc()
	frameDurationSeconds.Observe(d.Seconds())
}

func IncPicks(result string) { picksTotal.WithLabelValues(result).Inc() }

func IncHistoryHits()      { historyLookups.WithLabelValues("hit").Inc() }
func IncHistoryMisses()    { historyLookups.WithLabelValues("miss").Inc() }
func IncHistoryEvictions() { historyEvictions.Inc() }

func IncTelemetryFetches(result string) { telemetryFetches.WithLabelValues(result).Inc() }
func SetTelemetryAge(seconds float64)   { telemetryAgeSeconds.Set(seconds) }

// ObserveAssistant records one generative-text call.
func ObserveAssistant(flow, result string, d time.Duration) {
	assistantRequests.WithLabelValues(flow, result).Inc()
	assistantDuration.WithLabelValues(flow).Observe(d.Seconds())
}

func IncStreamsActive()                 { streamsActive.Inc() }
func DecStreamsActive()                 { streamsActive.Dec() }
func IncStreamConnections(event string) { streamConnections.WithLabelValues(event).Inc() }
func IncStreamMessages()                { streamMessages.Inc() }
func AddStreamBytes(n int64)            { streamBytes.Add(float64(n)) }
func IncStreamErrors(reason string)     { streamErrors.WithLabelValues(reason).Inc() }

func IncWSCommands(kind string)   { wsCommands.WithLabelValues(kind).Inc() }
func IncRateLimited(scope string) { rateLimited.WithLabelValues(scope).Inc() }

// exactRoutes are label values passed through unchanged.
var exactRoutes = map[string]bool{
	"/":                         true,
	"/healthz":                  true,
	"/readyz":                   true,
	"/metrics":                  true,
	"/app.js":                   true,
	"/styles.css":               true,
	"/index.html":               true,
	"/api/v1/bodies":            true,
	"/api/v1/snapshot":          true,
	"/api/v1/pick":              true,
	"/api/v1/resize":            true,
	"/api/v1/camera":            true,
	"/api/v1/selection":         true,
	"/api/v1/telemetry":         true,
	"/api/v1/stream/frames":     true,
	"/api/v1/ws":                true,
	"/api/v1/assistant/chat":    true,
	"/api/v1/assistant/explain": true,
	"/api/v1/quiz/daily":        true,
	"/api/v1/quiz/daily/answer": true,
	"/api/v1/people-in-space":   true,
	"/api/v1/planets/preview":   true,
	"/api/v1/trajectory.csv":    true,
}

// normalizeRoute collapses path parameters so label cardinality stays bounded.
// Unknown paths become "other".
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}

	if rest, ok := strings.CutPrefix(path, "/api/v1/bodies/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/v1/bodies/{name}"
	}

	if rest, ok := strings.CutPrefix(path, "/api/v1/missions/"); ok && rest != "" {
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1:
			return "/api/v1/missions/{id}"
		case len(parts) == 2 && parts[1] == "reset":
			return "/api/v1/missions/{id}/reset"
		case len(parts) == 3 && parts[1] == "objectives":
			return "/api/v1/missions/{id}/objectives/{objective}"
		case len(parts) == 3 && parts[1] == "crew":
			return "/api/v1/missions/{id}/crew/{name}"
		}
	}

	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE works through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the wrapped writer so websocket upgrades work through
// the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying connection.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
