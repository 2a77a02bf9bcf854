package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/scene"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testRegistry(t *testing.T) *body.Registry {
	t.Helper()
	reg, err := body.New(
		body.CelestialBody{Name: "Sun", Kind: body.KindStar, Radius: 5, Selectable: true},
		body.CelestialBody{
			Name: "Saturn", Kind: body.KindPlanet, Radius: 2, Selectable: true,
			Position: r3.Vec{X: 30},
			Ring:     &body.Ring{InnerScale: 1.2, OuterScale: 2.2},
			Info:     body.Info{Gravity: "1.07 G", Description: "Ringed gas giant."},
		},
	)
	require.NoError(t, err)
	return reg
}

func snapshotAt(frame uint64, saturnX float64) *scene.Snapshot {
	return &scene.Snapshot{
		Frame:   frame,
		Elapsed: float64(frame) / 30,
		Bodies: []scene.BodyState{
			{Name: "Sun", Radius: 5},
			{Name: "Saturn", Position: [3]float64{saturnX, 0, 0}, Radius: 2},
		},
		Camera: scene.CameraState{FOV: 75, Width: 1280, Height: 720},
	}
}

// fakeScene serves canned snapshots and records commands. Picking left of
// x=100 hits Saturn.
type fakeScene struct {
	reg  *body.Registry
	belt *scene.Belt

	mu       sync.Mutex
	history  []*scene.Snapshot
	selected *body.CelestialBody
	subs     map[int]chan string
	nextSub  int
	calls    []string
	zoom     float64
}

func newFakeScene(t *testing.T, snaps ...*scene.Snapshot) *fakeScene {
	return &fakeScene{
		reg:     testRegistry(t),
		belt:    scene.NewBelt(20, 1),
		history: snaps,
		subs:    make(map[int]chan string),
	}
}

func (f *fakeScene) Snapshot() *scene.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) == 0 {
		return nil
	}
	return f.history[len(f.history)-1]
}

func (f *fakeScene) Recent(n int) []*scene.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.history) {
		n = len(f.history)
	}
	return append([]*scene.Snapshot(nil), f.history[len(f.history)-n:]...)
}

func (f *fakeScene) Belt() *scene.Belt        { return f.belt }
func (f *fakeScene) Registry() *body.Registry { return f.reg }

func (f *fakeScene) Selected() *body.CelestialBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeScene) Subscribe() (<-chan string, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan string, 1)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

// closeSubs closes every subscription, as the loop does on shutdown.
func (f *fakeScene) closeSubs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.subs {
		delete(f.subs, id)
		close(c)
	}
}

func (f *fakeScene) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeScene) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeScene) Pick(_ context.Context, x, y float64) (scene.PickResult, error) {
	f.record(CmdPick)
	if x >= 100 {
		return scene.PickResult{}, nil
	}
	saturn := f.reg.MustGet("Saturn")
	f.mu.Lock()
	f.selected = saturn
	for _, c := range f.subs {
		select {
		case c <- saturn.Name:
		default:
		}
	}
	f.mu.Unlock()
	return scene.PickResult{Hit: true, Body: "Saturn", Distance: 12, Selected: "Saturn"}, nil
}

func (f *fakeScene) Resize(_ context.Context, w, h int) error {
	f.record(CmdResize)
	return nil
}

func (f *fakeScene) Zoom(_ context.Context, factor float64) error {
	f.record(CmdZoom)
	f.mu.Lock()
	f.zoom = factor
	f.mu.Unlock()
	return nil
}

func (f *fakeScene) Rotate(context.Context, float64, float64) error {
	f.record(CmdRotate)
	return nil
}

func (f *fakeScene) ResetView(context.Context) error {
	f.record(CmdReset)
	return nil
}

func (f *fakeScene) ClearSelection(context.Context) error {
	f.record(CmdClear)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KeepaliveInterval = 5 * time.Second
	return cfg
}

// dataMessages returns the decoded "data:" payloads of an SSE body.
func dataMessages(t *testing.T, body string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

// TestBuildFrameMessage verifies trails hold earlier frames only, oldest
// first.
func TestBuildFrameMessage(t *testing.T) {
	history := []*scene.Snapshot{snapshotAt(1, 10), snapshotAt(2, 11), snapshotAt(3, 12)}
	snap := history[2]

	msg := buildFrameMessage(snap, history, [][3]float64{{1, 2, 3}})

	assert.Equal(t, "frame", msg.Type)
	assert.Equal(t, uint64(3), msg.Frame)
	require.Len(t, msg.Bodies, 2)
	assert.Equal(t, "Saturn", msg.Bodies[1].Name)
	assert.Equal(t, [3]float64{12, 0, 0}, msg.Bodies[1].P)
	assert.Equal(t, [][3]float64{{10, 0, 0}, {11, 0, 0}}, msg.Bodies[1].Tr)
	assert.Len(t, msg.Asteroids, 1)

	bare := buildFrameMessage(snap, nil, nil)
	assert.Nil(t, bare.Bodies[1].Tr)
	assert.Nil(t, bare.Asteroids)
}

// TestBuildMetadata verifies the static body description.
func TestBuildMetadata(t *testing.T) {
	meta := buildMetadata(testRegistry(t), "s-1", 10, 5, 100)

	assert.Equal(t, "metadata", meta.Type)
	assert.Equal(t, "s-1", meta.Session)
	require.Len(t, meta.Bodies, 2)
	saturn := meta.Bodies[1]
	assert.Equal(t, "Saturn", saturn.Name)
	assert.True(t, saturn.Selectable)
	require.NotNil(t, saturn.Ring)
	assert.InDelta(t, 2.4, saturn.Ring.Inner, 1e-12)
	assert.InDelta(t, 4.4, saturn.Ring.Outer, 1e-12)
	assert.Nil(t, meta.Bodies[0].Ring)

	data, err := json.Marshal(meta)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"Planet"`)
}

// TestSSEMessageFormat verifies the wire format and that an unchanged frame
// is sent once.
func TestSSEMessageFormat(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := newFakeScene(t, snapshotAt(1, 10), snapshotAt(2, 11))
	handler := NewHandler(fake, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/frames?fps=30&trail=4&asteroids=5", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 300*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	resp := w.Result()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "retry: "), "first line should set retry")

	msgs := dataMessages(t, body)
	require.Len(t, msgs, 2)
	assert.Equal(t, "metadata", msgs[0]["type"])
	assert.NotEmpty(t, msgs[0]["session"])

	frame := msgs[1]
	assert.Equal(t, "frame", frame["type"])
	assert.EqualValues(t, 2, frame["frame"])
	assert.Len(t, frame["asteroids"], 5)
	bodies := frame["bodies"].([]any)
	saturn := bodies[1].(map[string]any)
	assert.Len(t, saturn["tr"], 1)

	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") &&
			!strings.HasPrefix(line, "id: ") && line != ":" {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
	assert.Zero(t, handler.slots.inUse(), "slot should be released")
}

// TestSSEWaitsForFirstFrame verifies no frame is sent before the loop has
// published one.
func TestSSEWaitsForFirstFrame(t *testing.T) {
	handler := NewHandler(newFakeScene(t), testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/frames?fps=30", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 150*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	handler.HandleFrames(w, req.WithContext(ctx))

	msgs := dataMessages(t, w.Body.String())
	require.Len(t, msgs, 1)
	assert.Equal(t, "metadata", msgs[0]["type"])
}

// TestSlotPool verifies per-IP and global stream caps and that a release
// func frees exactly one slot.
func TestSlotPool(t *testing.T) {
	pool := newSlotPool(3, 5)

	var frees []func()
	for i := 0; i < 3; i++ {
		free, ok := pool.take("10.0.0.1")
		require.True(t, ok, "take %d", i+1)
		frees = append(frees, free)
	}
	_, ok := pool.take("10.0.0.1")
	assert.False(t, ok, "take beyond the per-IP cap should fail")
	_, ok = pool.take("10.0.0.2")
	assert.True(t, ok, "different IP should not be limited")

	frees[0]()
	frees[0]()
	assert.Equal(t, 2, pool.held("10.0.0.1"), "a second release must not free another slot")
	_, ok = pool.take("10.0.0.1")
	assert.True(t, ok, "take after release should succeed")
	assert.Equal(t, 3, pool.held("10.0.0.1"))
	assert.Equal(t, 1, pool.held("10.0.0.2"))

	_, ok = pool.take("10.0.0.3")
	assert.True(t, ok)
	_, ok = pool.take("10.0.0.4")
	assert.False(t, ok, "global cap")
	assert.Equal(t, 5, pool.inUse())
}

func TestSlotPoolConcurrent(t *testing.T) {
	pool := newSlotPool(100, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if free, ok := pool.take("10.0.0.1"); ok {
				defer free()
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, pool.held("10.0.0.1"))
	assert.Zero(t, pool.inUse())
}

// TestRateLimitHTTPResponse verifies a 429 when the per-IP limit is reached.
func TestRateLimitHTTPResponse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	handler := NewHandler(newFakeScene(t, snapshotAt(1, 10)), cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/frames", nil).WithContext(ctx)
		req.RemoteAddr = "10.0.0.1:12345"
		handler.HandleFrames(httptest.NewRecorder(), req)
	}()
	require.Eventually(t, func() bool { return handler.slots.held("10.0.0.1") == 1 }, time.Second, time.Millisecond)

	req := httptest.NewRequest("GET", "/api/v1/stream/frames", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	cancel()
	<-done
	assert.Zero(t, handler.slots.held("10.0.0.1"))
}

// TestInvalidQueryParams verifies error responses for out-of-range
// parameters.
func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(newFakeScene(t), testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"fps zero", "?fps=0"},
		{"fps too large", "?fps=100"},
		{"fps non-numeric", "?fps=abc"},
		{"negative trail", "?trail=-1"},
		{"trail too large", "?trail=9999"},
		{"asteroids too large", "?asteroids=5000"},
		{"asteroids non-numeric", "?asteroids=lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/frames"+tt.query, nil)
			w := httptest.NewRecorder()
			handler.HandleFrames(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

// TestConfigDefaults verifies zero limits fall back to defaults.
func TestConfigDefaults(t *testing.T) {
	cfg := Config{MaxFPS: 5}.withDefaults()
	assert.Equal(t, 5, cfg.DefaultFPS)
	assert.Equal(t, DefaultConfig().PingInterval, cfg.PingInterval)
	assert.Equal(t, DefaultConfig().WriteTimeout, cfg.WriteTimeout)
}

func TestEventWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	ew := newEventWriter(rec, rec, 0, testLogger())

	require.NoError(t, ew.retry(5*time.Second))
	require.NoError(t, ew.message(map[string]string{"type": "metadata"}))
	require.NoError(t, ew.frame(42, []byte(`{"type":"frame"}`)))
	require.NoError(t, ew.ping())

	want := "retry: 5000\n\n" +
		"data: {\"type\":\"metadata\"}\n\n" +
		"id: 42\ndata: {\"type\":\"frame\"}\n\n" +
		":\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.EqualValues(t, 2, ew.events)
	assert.EqualValues(t, len(want), ew.bytes)
}
