// Package stream pushes simulation frames to browsers and accepts camera
// and selection commands from them.
//
// GET /api/v1/stream/frames is a Server-Sent Events stream. The first
// message on every connection is metadata describing the bodies:
//
//	data: {"type":"metadata","session":"...","fps":30,"bodies":[...]}\n\n
//
// followed by one frame message per tick:
//
//	data: {"type":"frame","frame":120,"t":4.0,"bodies":[{"name":"Earth","p":[...]}],...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval when no
// frame went out. GET /api/v1/ws is the websocket control channel; see
// ws.go.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/httputil"
	"github.com/star/spacecommand/internal/metrics"
	"github.com/star/spacecommand/internal/scene"
)

// Scene is the part of *scene.Loop the stream handlers use.
type Scene interface {
	Snapshot() *scene.Snapshot
	Recent(n int) []*scene.Snapshot
	Belt() *scene.Belt
	Registry() *body.Registry
	Selected() *body.CelestialBody
	Subscribe() (<-chan string, func())
	Commander
}

// Config holds streaming limits.
type Config struct {
	MaxConcurrentPerIP int           // concurrent SSE and websocket connections per IP
	MaxTotal           int           // concurrent connections overall
	KeepaliveInterval  time.Duration // SSE comment interval when idle
	WriteTimeout       time.Duration // per-message write deadline
	DefaultFPS         int
	MaxFPS             int
	MaxTrail           int
	MaxAsteroids       int
	TrustProxy         bool

	PingInterval   time.Duration // websocket ping interval; the read deadline is twice this
	CommandRate    float64       // websocket commands per second
	CommandBurst   int
	CommandTimeout time.Duration
	AllowedOrigins []string // empty allows any origin
}

// DefaultConfig returns the limits used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		MaxTotal:           1000,
		KeepaliveInterval:  30 * time.Second,
		WriteTimeout:       30 * time.Second,
		DefaultFPS:         10,
		MaxFPS:             30,
		MaxTrail:           120,
		MaxAsteroids:       1000,
		PingInterval:       20 * time.Second,
		CommandRate:        20,
		CommandBurst:       40,
		CommandTimeout:     5 * time.Second,
	}
}

// withDefaults fills zero limits from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = d.MaxConcurrentPerIP
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = d.MaxTotal
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxFPS <= 0 {
		c.MaxFPS = d.MaxFPS
	}
	if c.DefaultFPS <= 0 || c.DefaultFPS > c.MaxFPS {
		c.DefaultFPS = min(d.DefaultFPS, c.MaxFPS)
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.CommandRate <= 0 {
		c.CommandRate = d.CommandRate
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = d.CommandBurst
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	return c
}

// Handler serves the frame stream and the control channel.
type Handler struct {
	scene    Scene
	config   Config
	slots    *slotPool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a streaming handler over s.
func NewHandler(s Scene, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	h := &Handler{
		scene:  s,
		config: config,
		slots:  newSlotPool(config.MaxConcurrentPerIP, config.MaxTotal),
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// intParam parses an integer query parameter in [lo, hi], or returns def
// when it is absent.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s parameter, must be %d-%d", name, lo, hi)
	}
	return n, nil
}

// acquire takes a stream slot for the request's IP or writes a 429. The
// returned release func frees the slot.
func (h *Handler) acquire(w http.ResponseWriter, r *http.Request) (string, func(), bool) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	free, ok := h.slots.take(ip)
	if !ok {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.slots.held(ip),
			"open_streams", h.slots.inUse(),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return "", nil, false
	}
	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	return ip, func() {
		free()
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
	}, true
}

// HandleFrames serves the SSE frame stream.
// GET /api/v1/stream/frames?fps=10&trail=20&asteroids=1000
func (h *Handler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	fps, err := intParam(r, "fps", h.config.DefaultFPS, 1, h.config.MaxFPS)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	trail, err := intParam(r, "trail", 0, 0, h.config.MaxTrail)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	asteroids, err := intParam(r, "asteroids", 0, 0, h.config.MaxAsteroids)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ip, release, ok := h.acquire(w, r)
	if !ok {
		return
	}
	session := uuid.NewString()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"session", session,
		"user_agent", r.Header.Get("User-Agent"),
		"fps", fps,
		"trail", trail,
		"asteroids", asteroids,
	)

	c := newEventWriter(w, flusher, h.config.WriteTimeout, h.logger)
	defer func() {
		release()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"session", session,
			"messages", c.events,
			"bytes", c.bytes,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Long-lived stream: drop the server-wide write timeout and set a
	// deadline per message instead.
	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered 3-7s reconnect interval spreads reconnects after a restart.
	if err := c.retry(3*time.Second + time.Duration(rand.Intn(4000))*time.Millisecond); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}

	meta := buildMetadata(h.scene.Registry(), session, fps, trail, asteroids)
	if err := c.message(meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	var lastFrame uint64
	sent := false
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			snap := h.scene.Snapshot()
			if snap == nil || (sent && snap.Frame == lastFrame) {
				continue
			}

			var history []*scene.Snapshot
			if trail > 0 {
				history = h.scene.Recent(trail + 1)
			}
			var rocks [][3]float64
			if asteroids > 0 {
				rocks = h.scene.Belt().Positions(snap.Elapsed, asteroids)
			}

			data, err := json.Marshal(buildFrameMessage(snap, history, rocks))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := c.frame(snap.Frame, data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			lastFrame, sent = snap.Frame, true
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.ping(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildMetadata lists the static description of every body.
func buildMetadata(reg *body.Registry, session string, fps, trail, asteroids int) metadataMessage {
	all := reg.GetAll()
	bodies := make([]bodyMeta, len(all))
	for i, b := range all {
		bodies[i] = bodyMeta{
			Name:       b.Name,
			Kind:       b.Kind,
			Radius:     b.Radius,
			Color:      b.Color.Hex(),
			Texture:    b.TextureRef,
			Parent:     b.Parent,
			Selectable: b.Selectable,
			Orbit:      b.Mode().String(),
		}
		if b.Ring != nil {
			bodies[i].Ring = &ringMeta{
				Inner:   b.Ring.InnerScale * b.Radius,
				Outer:   b.Ring.OuterScale * b.Radius,
				Tilt:    b.Ring.Tilt,
				Texture: b.Ring.TextureRef,
			}
		}
	}
	return metadataMessage{
		Type:      "metadata",
		Session:   session,
		FPS:       fps,
		Trail:     trail,
		Asteroids: asteroids,
		Bodies:    bodies,
	}
}

// buildFrameMessage formats snap for the wire. history holds recent frames
// oldest first and may include snap itself; each body's trail is its
// positions in the frames before snap.
func buildFrameMessage(snap *scene.Snapshot, history []*scene.Snapshot, asteroids [][3]float64) frameMessage {
	var trailIndex map[string][][3]float64
	if len(history) > 0 {
		trailIndex = make(map[string][][3]float64, len(snap.Bodies))
		for _, past := range history {
			if past.Frame >= snap.Frame {
				continue
			}
			for _, b := range past.Bodies {
				trailIndex[b.Name] = append(trailIndex[b.Name], b.Position)
			}
		}
	}

	bodies := make([]bodyPayload, len(snap.Bodies))
	for i, b := range snap.Bodies {
		bodies[i] = bodyPayload{Name: b.Name, P: b.Position, Spin: b.Spin}
		if tr, ok := trailIndex[b.Name]; ok {
			bodies[i].Tr = tr
		}
	}
	return frameMessage{
		Type:          "frame",
		Frame:         snap.Frame,
		T:             snap.Elapsed,
		Bodies:        bodies,
		Camera:        snap.Camera,
		Selected:      snap.Selected,
		GalaxyOpacity: snap.GalaxyOpacity,
		Telemetry:     snap.Telemetry,
		Asteroids:     asteroids,
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type      string     `json:"type"`
	Session   string     `json:"session"`
	FPS       int        `json:"fps"`
	Trail     int        `json:"trail"`
	Asteroids int        `json:"asteroids"`
	Bodies    []bodyMeta `json:"bodies"`
}

type bodyMeta struct {
	Name       string    `json:"name"`
	Kind       body.Kind `json:"kind"`
	Radius     float64   `json:"r"`
	Color      string    `json:"color"`
	Texture    string    `json:"texture,omitempty"`
	Parent     string    `json:"parent,omitempty"`
	Selectable bool      `json:"selectable"`
	Orbit      string    `json:"orbit"`
	Ring       *ringMeta `json:"ring,omitempty"`
}

type ringMeta struct {
	Inner   float64 `json:"inner"`
	Outer   float64 `json:"outer"`
	Tilt    float64 `json:"tilt"`
	Texture string  `json:"texture,omitempty"`
}

type frameMessage struct {
	Type          string                `json:"type"`
	Frame         uint64                `json:"frame"`
	T             float64               `json:"t"`
	Bodies        []bodyPayload         `json:"bodies"`
	Camera        scene.CameraState     `json:"camera"`
	Selected      string                `json:"selected,omitempty"`
	GalaxyOpacity float64               `json:"galaxy_opacity"`
	Telemetry     *scene.TelemetryState `json:"telemetry,omitempty"`
	Asteroids     [][3]float64          `json:"asteroids,omitempty"`
}

type bodyPayload struct {
	Name string       `json:"name"`
	P    [3]float64   `json:"p"`
	Spin float64      `json:"spin"`
	Tr   [][3]float64 `json:"tr,omitempty"`
}
