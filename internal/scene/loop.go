// Package scene drives the simulation frame loop.
//
// A Loop owns the camera, the orbit controls, the selection and every visual
// resource allocated for a session. One goroutine calls Frame; it is the
// only writer of body placements. Other goroutines read published Snapshots
// and submit commands (pick, resize, zoom, rotate, reset) which the loop
// applies at the start of its next frame, against the positions that frame
// started with.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/cache"
	"github.com/star/spacecommand/internal/metrics"
	"github.com/star/spacecommand/internal/orbit"
	"github.com/star/spacecommand/internal/telemetry"
	"github.com/star/spacecommand/internal/transform"
)

// Zoom factors for one zoom-in or zoom-out step.
const (
	ZoomInFactor  = 1.2
	ZoomOutFactor = 0.8
)

// ErrClosed is returned for commands submitted after the loop closed.
var ErrClosed = errors.New("scene loop closed")

// Config holds loop configuration.
type Config struct {
	FPS       int
	MaxDelta  float64 // largest dt applied in one frame, seconds
	TimeScale float64 // simulated seconds per wall second

	Width  int
	Height int
	FOV    float64
	Near   float64
	Far    float64

	CameraPosition r3.Vec
	Damping        float64
	MinDistance    float64
	MaxDistance    float64

	AsteroidCount int
	Seed          int64
	HistoryFrames int

	TrackedBody string
	KmPerUnit   float64

	// Headless loops are driven directly through Frame (trajectory
	// exports). They record no Prometheus metrics and log setup at Debug.
	Headless bool
}

// DefaultConfig returns the stock scene settings.
func DefaultConfig() Config {
	return Config{
		FPS:            30,
		MaxDelta:       0.1,
		TimeScale:      1,
		Width:          1280,
		Height:         720,
		FOV:            75,
		Near:           0.1,
		Far:            10000,
		CameraPosition: r3.Vec{Y: 45, Z: 60},
		Damping:        0.05,
		MinDistance:    1,
		MaxDistance:    7000,
		AsteroidCount:  1000,
		Seed:           1,
		HistoryFrames:  600,
		TrackedBody:    "ISS",
		KmPerUnit:      4000,
	}
}

// TelemetryFeed supplies the latest tracked-satellite sample.
// *telemetry.Poller satisfies it.
type TelemetryFeed interface {
	Latest() (telemetry.Position, bool)
	Status() telemetry.Status
}

// PickResult is the outcome of one pick command.
type PickResult struct {
	Hit      bool    `json:"hit"`
	Body     string  `json:"body,omitempty"`
	Distance float64 `json:"distance"`
	Selected string  `json:"selected,omitempty"`
}

type commandKind int

const (
	cmdPick commandKind = iota
	cmdResize
	cmdZoom
	cmdRotate
	cmdReset
	cmdClearSelection
)

type command struct {
	kind   commandKind
	x, y   float64
	w, h   int
	factor float64
	reply  chan commandResult
}

type commandResult struct {
	pick PickResult
	err  error
}

// Loop is the scene and interaction loop.
type Loop struct {
	reg    *body.Registry
	eval   *orbit.Evaluator
	cfg    Config
	feed   TelemetryFeed
	logger *slog.Logger

	// Frame state, guarded by frameMu. Only Frame touches it.
	frameMu  sync.Mutex
	cam      *Camera
	controls *Controls
	res      *Resources
	index    *PickIndex
	spheres  map[string]Handle
	rings    map[string]Handle
	belt     *Belt
	frame    uint64
	elapsed  float64
	closed   bool
	closeErr error

	cmdMu    sync.Mutex
	queue    []command
	shutdown bool

	selected atomic.Pointer[body.CelestialBody]
	snapshot atomic.Pointer[Snapshot]
	history  *cache.History[*Snapshot]

	subMu  sync.Mutex
	subs   map[int]chan string
	nextID int
}

// NewLoop builds a loop over reg and allocates its resources from alloc.
// feed may be nil. On error nothing stays allocated.
func NewLoop(reg *body.Registry, cfg Config, alloc Allocator, feed TelemetryFeed, logger *slog.Logger) (*Loop, error) {
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid fps %d", cfg.FPS)
	}
	cam, err := NewCamera(cfg.FOV, cfg.Near, cfg.Far, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	cam.Position = cfg.CameraPosition

	res, err := Open(reg, alloc, cfg.AsteroidCount > 0)
	if err != nil {
		return nil, fmt.Errorf("opening scene resources: %w", err)
	}

	l := &Loop{
		reg:      reg,
		eval:     orbit.NewEvaluator(reg),
		cfg:      cfg,
		feed:     feed,
		logger:   logger,
		cam:      cam,
		controls: NewControls(cam, cfg.Damping, cfg.MinDistance, cfg.MaxDistance),
		res:      res,
		index:    newPickIndex(),
		spheres:  make(map[string]Handle),
		rings:    make(map[string]Handle),
		belt:     NewBelt(cfg.AsteroidCount, cfg.Seed),
		history:  newHistory(cfg, logger),
		subs:     make(map[int]chan string),
	}

	for _, b := range reg.GetAll() {
		if !b.Selectable {
			continue
		}
		l.spheres[b.Name] = l.index.add(b.Name, shapeSphere)
		if b.Ring != nil {
			l.rings[b.Name] = l.index.add(b.Name, shapeRing)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	l.eval.SeedCursors(rng.Float64)

	level := slog.LevelInfo
	if cfg.Headless {
		level = slog.LevelDebug
	}
	logger.Log(context.Background(), level, "scene loop initialized",
		"bodies", reg.Len(),
		"pickable", l.index.Len(),
		"resources", len(res.Held()),
		"asteroids", l.belt.Len(),
		"fps", cfg.FPS,
		"headless", cfg.Headless,
	)
	return l, nil
}

func newHistory(cfg Config, logger *slog.Logger) *cache.History[*Snapshot] {
	if cfg.Headless {
		return cache.NewHistory[*Snapshot](cfg.HistoryFrames, logger, cache.WithoutMetrics())
	}
	return cache.NewHistory[*Snapshot](cfg.HistoryFrames, logger)
}

// Run publishes a frame immediately and then one per tick until ctx is
// cancelled. It closes the loop before returning.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()

	l.Frame(0)

	interval := time.Second / time.Duration(l.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scene loop stopped", "frames", l.frameCount())
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if l.cfg.MaxDelta > 0 && dt > l.cfg.MaxDelta {
				dt = l.cfg.MaxDelta
			}
			l.Frame(dt * l.timeScale())
		}
	}
}

func (l *Loop) timeScale() float64 {
	if l.cfg.TimeScale <= 0 {
		return 1
	}
	return l.cfg.TimeScale
}

func (l *Loop) frameCount() uint64 {
	if s := l.snapshot.Load(); s != nil {
		return s.Frame
	}
	return 0
}

// Frame runs one full update and publishes the result. Calls are
// serialized; a closed loop ignores them.
func (l *Loop) Frame(dt float64) {
	l.frameMu.Lock()
	defer l.frameMu.Unlock()
	if l.closed {
		return
	}
	start := time.Now()

	// Commands see the positions this frame started with.
	l.drainCommands()

	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		dt = 0
	}
	l.elapsed += dt

	l.eval.UpdateCircular(l.elapsed)
	l.eval.UpdateElliptical(l.elapsed, dt)
	tel := l.applyTelemetry()
	l.eval.Spin()
	l.controls.Update()

	snap := l.buildSnapshot(tel)
	l.snapshot.Store(snap)
	l.history.Put(snap.Frame, snap)
	l.frame++

	if !l.cfg.Headless {
		metrics.ObserveFrame(time.Since(start))
	}
}

// applyTelemetry places the tracked satellite from the latest sample. With
// no sample the satellite stays unplaced and is left out of snapshots.
func (l *Loop) applyTelemetry() *TelemetryState {
	if l.feed == nil || l.cfg.TrackedBody == "" {
		return nil
	}
	b, err := l.reg.GetByName(l.cfg.TrackedBody)
	if err != nil {
		return nil
	}
	state := &TelemetryState{Body: b.Name, Status: l.feed.Status()}
	pos, ok := l.feed.Latest()
	if !ok {
		return state
	}
	state.Position = pos

	parent, err := l.reg.GetByName(b.Parent)
	if err != nil {
		return state
	}
	r := transform.SurfaceRadius(parent.Radius, pos.Altitude, l.cfg.KmPerUnit)
	offset := transform.LatLonToScene(pos.Latitude, pos.Longitude, r)
	if err := l.eval.SetTracked(b.Name, offset); err != nil {
		l.logger.Warn("placing tracked body failed", "body", b.Name, "error", err)
	}
	return state
}

func (l *Loop) buildSnapshot(tel *TelemetryState) *Snapshot {
	all := l.reg.GetAll()
	bodies := make([]BodyState, 0, len(all))
	for i, b := range all {
		pl := l.reg.PlacementAt(i)
		if !pl.HasWorld {
			continue
		}
		bs := BodyState{
			Name:     b.Name,
			Kind:     b.Kind,
			Position: [3]float64{pl.World.X, pl.World.Y, pl.World.Z},
			Radius:   b.Radius,
			Spin:     pl.Spin,
			Color:    b.Color.Hex(),
			Parent:   b.Parent,
		}
		if b.Mode() == body.ModeElliptical {
			u := pl.U
			bs.U = &u
		}
		bodies = append(bodies, bs)
	}

	var selected string
	if sel := l.selected.Load(); sel != nil {
		selected = sel.Name
	}

	return &Snapshot{
		Frame:      l.frame,
		Elapsed:    l.elapsed,
		RenderedAt: time.Now().UTC(),
		Bodies:     bodies,
		Camera: CameraState{
			Position: [3]float64{l.cam.Position.X, l.cam.Position.Y, l.cam.Position.Z},
			Target:   [3]float64{l.cam.Target.X, l.cam.Target.Y, l.cam.Target.Z},
			FOV:      l.cam.FOV,
			Aspect:   l.cam.Aspect(),
			Near:     l.cam.Near,
			Far:      l.cam.Far,
			Width:    l.cam.Width,
			Height:   l.cam.Height,
			Distance: l.controls.Distance(),
		},
		Selected:      selected,
		GalaxyOpacity: GalaxyOpacity(l.controls.Distance()),
		Telemetry:     tel,
	}
}

// targets returns the pick geometry of every selectable, placed body.
func (l *Loop) targets() []Target {
	var out []Target
	for i, b := range l.reg.GetAll() {
		h, ok := l.spheres[b.Name]
		if !ok {
			continue
		}
		pl := l.reg.PlacementAt(i)
		if !pl.HasWorld {
			continue
		}
		out = append(out, Target{Handle: h, Center: pl.World, Radius: b.Radius})
		if rh, ok := l.rings[b.Name]; ok {
			out = append(out, Target{
				Handle: rh,
				Center: pl.World,
				Inner:  b.Radius * b.Ring.InnerScale,
				Radius: b.Radius * b.Ring.OuterScale,
				Normal: r3.NewRotation(b.Ring.Tilt, r3.Vec{X: 1}).Rotate(r3.Vec{Z: 1}),
				ring:   true,
			})
		}
	}
	return out
}

// pick resolves pixel (x, y) against the current placements. A hit becomes
// the selection; a miss leaves it unchanged.
func (l *Loop) pick(x, y float64) PickResult {
	origin, dir := l.cam.Ray(x, y)
	hit, ok := l.index.Pick(origin, dir, l.targets())
	if !ok {
		l.countPick("miss")
		res := PickResult{}
		if sel := l.selected.Load(); sel != nil {
			res.Selected = sel.Name
		}
		return res
	}
	l.countPick("hit")

	b := l.reg.MustGet(hit.Body)
	l.setSelected(b)
	l.logger.Debug("body picked", "body", b.Name, "distance", hit.Distance)
	return PickResult{Hit: true, Body: b.Name, Distance: hit.Distance, Selected: b.Name}
}

func (l *Loop) countPick(result string) {
	if !l.cfg.Headless {
		metrics.IncPicks(result)
	}
}

func (l *Loop) setSelected(b *body.CelestialBody) {
	prev := l.selected.Swap(b)
	if prev == b {
		return
	}
	name := ""
	if b != nil {
		name = b.Name
	}
	l.notify(name)
}

func (l *Loop) drainCommands() {
	l.cmdMu.Lock()
	cmds := l.queue
	l.queue = nil
	l.cmdMu.Unlock()

	for _, c := range cmds {
		var res commandResult
		switch c.kind {
		case cmdPick:
			res.pick = l.pick(c.x, c.y)
		case cmdResize:
			res.err = l.cam.Resize(c.w, c.h)
		case cmdZoom:
			l.controls.Dolly(c.factor)
		case cmdRotate:
			l.controls.Rotate(c.x, c.y)
		case cmdReset:
			l.controls.Reset()
		case cmdClearSelection:
			l.setSelected(nil)
		}
		c.reply <- res
	}
}

// submit queues c and waits for the frame that applies it.
func (l *Loop) submit(ctx context.Context, c command) (commandResult, error) {
	c.reply = make(chan commandResult, 1)

	l.cmdMu.Lock()
	if l.shutdown {
		l.cmdMu.Unlock()
		return commandResult{}, ErrClosed
	}
	l.queue = append(l.queue, c)
	l.cmdMu.Unlock()

	select {
	case res := <-c.reply:
		return res, res.err
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

// Pending returns the number of queued commands.
func (l *Loop) Pending() int {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()
	return len(l.queue)
}

// Pick selects the nearest selectable body under pixel (x, y), with (0,0)
// at the top-left of the viewport.
func (l *Loop) Pick(ctx context.Context, x, y float64) (PickResult, error) {
	res, err := l.submit(ctx, command{kind: cmdPick, x: x, y: y})
	return res.pick, err
}

// Resize changes the viewport. The frame that applies it is the first one
// published with the new aspect ratio.
func (l *Loop) Resize(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	_, err := l.submit(ctx, command{kind: cmdResize, w: width, h: height})
	return err
}

// Zoom dollies the camera; factor > 1 moves closer.
func (l *Loop) Zoom(ctx context.Context, factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("invalid zoom factor %v", factor)
	}
	_, err := l.submit(ctx, command{kind: cmdZoom, factor: factor})
	return err
}

// Rotate orbits the camera by the given azimuth and polar deltas, radians.
func (l *Loop) Rotate(ctx context.Context, dTheta, dPhi float64) error {
	_, err := l.submit(ctx, command{kind: cmdRotate, x: dTheta, y: dPhi})
	return err
}

// ResetView restores the initial camera pose.
func (l *Loop) ResetView(ctx context.Context) error {
	_, err := l.submit(ctx, command{kind: cmdReset})
	return err
}

// ClearSelection deselects the current body, as closing the info panel does.
func (l *Loop) ClearSelection(ctx context.Context) error {
	_, err := l.submit(ctx, command{kind: cmdClearSelection})
	return err
}

// Snapshot returns the most recent frame, or nil before the first one.
func (l *Loop) Snapshot() *Snapshot {
	return l.snapshot.Load()
}

// Ready reports whether a frame has been published.
func (l *Loop) Ready() bool {
	return l.snapshot.Load() != nil
}

// Selected returns the selected body, or nil.
func (l *Loop) Selected() *body.CelestialBody {
	return l.selected.Load()
}

// Registry returns the body registry the loop animates.
func (l *Loop) Registry() *body.Registry {
	return l.reg
}

// Belt returns the asteroid belt.
func (l *Loop) Belt() *Belt {
	return l.belt
}

// Recent returns up to n recent frames, oldest first.
func (l *Loop) Recent(n int) []*Snapshot {
	return l.history.GetRecent(n)
}

// HistoryStats reports frame history usage.
func (l *Loop) HistoryStats() cache.Stats {
	return l.history.Stats()
}

// Subscribe returns a channel that receives the selected body name ("" for
// none) after each change. Slow readers only see the latest value. Call
// cancel to unsubscribe.
func (l *Loop) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 1)

	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	if l.subs == nil {
		close(ch)
		l.subMu.Unlock()
		return ch, func() {}
	}
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			if c, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(c)
			}
			l.subMu.Unlock()
		})
	}
}

func (l *Loop) notify(name string) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- name:
		default:
			// Replace the unread value.
			select {
			case <-ch:
			default:
			}
			ch <- name
		}
	}
}

// Close releases every scene resource exactly once, fails queued commands
// with ErrClosed and closes subscriber channels. Later calls return the
// first call's result.
func (l *Loop) Close() error {
	l.frameMu.Lock()
	defer l.frameMu.Unlock()
	if l.closed {
		return l.closeErr
	}
	l.closed = true

	l.cmdMu.Lock()
	l.shutdown = true
	pending := l.queue
	l.queue = nil
	l.cmdMu.Unlock()
	for _, c := range pending {
		c.reply <- commandResult{err: ErrClosed}
	}

	l.subMu.Lock()
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
	l.subs = nil
	l.subMu.Unlock()

	l.closeErr = l.res.Close()
	if l.closeErr != nil {
		l.logger.Error("releasing scene resources", "error", l.closeErr)
	}
	return l.closeErr
}
