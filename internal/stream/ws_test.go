package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/spacecommand/internal/scene"
)

func dialWS(t *testing.T, h *Handler, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// TestExecute verifies each command type reaches the scene and invalid
// commands are rejected before they are queued.
func TestExecute(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		call    string
		wantErr error
	}{
		{"pick", Command{Type: CmdPick, X: 10, Y: 10}, CmdPick, nil},
		{"resize", Command{Type: CmdResize, Width: 800, Height: 600}, CmdResize, nil},
		{"resize zero", Command{Type: CmdResize, Width: 0, Height: 600}, "", ErrInvalidCommand},
		{"zoom", Command{Type: CmdZoom, Factor: 2}, CmdZoom, nil},
		{"zoom negative", Command{Type: CmdZoom, Factor: -1}, "", ErrInvalidCommand},
		{"zoom in", Command{Type: CmdZoomIn}, CmdZoom, nil},
		{"zoom out", Command{Type: CmdZoomOut}, CmdZoom, nil},
		{"rotate", Command{Type: CmdRotate, DTheta: 0.1}, CmdRotate, nil},
		{"reset", Command{Type: CmdReset}, CmdReset, nil},
		{"clear", Command{Type: CmdClear}, CmdClear, nil},
		{"unknown", Command{Type: "warp"}, "", ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeScene(t)
			_, err := Execute(context.Background(), fake, tt.cmd)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, fake.Calls())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.call}, fake.Calls())
		})
	}
}

// TestExecuteZoomSteps verifies the zoom shortcuts use the dolly factors.
func TestExecuteZoomSteps(t *testing.T) {
	fake := newFakeScene(t)
	_, err := Execute(context.Background(), fake, Command{Type: CmdZoomIn})
	require.NoError(t, err)
	assert.Equal(t, scene.ZoomInFactor, fake.zoom)

	_, err = Execute(context.Background(), fake, Command{Type: CmdZoomOut})
	require.NoError(t, err)
	assert.Equal(t, scene.ZoomOutFactor, fake.zoom)
}

// TestWSControlChannel verifies hello, ack and selection echo.
func TestWSControlChannel(t *testing.T) {
	fake := newFakeScene(t, snapshotAt(1, 10))
	conn, _, err := dialWS(t, NewHandler(fake, testConfig(), testLogger()), nil)
	require.NoError(t, err)

	hello := readJSON(t, conn)
	assert.Equal(t, "hello", hello["type"])
	assert.NotEmpty(t, hello["session"])

	require.NoError(t, conn.WriteJSON(Command{ID: "1", Type: CmdPick, X: 10, Y: 10}))

	var ack, selection map[string]any
	for ack == nil || selection == nil {
		msg := readJSON(t, conn)
		switch msg["type"] {
		case "ack":
			ack = msg
		case "selection":
			selection = msg
		default:
			t.Fatalf("unexpected message %v", msg)
		}
	}
	assert.Equal(t, "1", ack["id"])
	pick := ack["pick"].(map[string]any)
	assert.Equal(t, "Saturn", pick["body"])

	assert.Equal(t, "Saturn", selection["selected"])
	info := selection["body"].(map[string]any)
	assert.Equal(t, "Planet", info["kind"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])

	require.NoError(t, conn.WriteJSON(Command{ID: "2", Type: "warp"}))
	msg = readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "2", msg["id"])
}

// TestWSRateLimited verifies commands beyond the burst are refused.
func TestWSRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.CommandRate = 0.01
	cfg.CommandBurst = 1
	conn, _, err := dialWS(t, NewHandler(newFakeScene(t), cfg, testLogger()), nil)
	require.NoError(t, err)
	readJSON(t, conn) // hello

	require.NoError(t, conn.WriteJSON(Command{ID: "a", Type: CmdReset}))
	require.NoError(t, conn.WriteJSON(Command{ID: "b", Type: CmdReset}))

	first := readJSON(t, conn)
	second := readJSON(t, conn)
	assert.Equal(t, "ack", first["type"])
	assert.Equal(t, "error", second["type"])
	assert.Equal(t, "rate limit exceeded", second["error"])
}

// TestWSClosesWithScene verifies the channel closes when the loop shuts
// down.
func TestWSClosesWithScene(t *testing.T) {
	fake := newFakeScene(t)
	conn, _, err := dialWS(t, NewHandler(fake, testConfig(), testLogger()), nil)
	require.NoError(t, err)
	readJSON(t, conn) // hello

	fake.closeSubs()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
}

// TestWSCheckOrigin verifies the origin allow-list.
func TestWSCheckOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"http://allowed.example"}
	h := NewHandler(newFakeScene(t), cfg, testLogger())

	_, resp, err := dialWS(t, h, http.Header{"Origin": {"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialWS(t, h, http.Header{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", readJSON(t, conn)["type"])
}
