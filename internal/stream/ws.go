package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/metrics"
	"github.com/star/spacecommand/internal/scene"
)

const maxCommandBytes = 4096

// Control channel messages, server to client.

type helloMessage struct {
	Type     string `json:"type"`
	Session  string `json:"session"`
	Selected string `json:"selected,omitempty"`
}

type ackMessage struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`
	Command string            `json:"command"`
	Pick    *scene.PickResult `json:"pick,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// SelectionMessage announces a selection change. Body is nil when nothing
// is selected.
type SelectionMessage struct {
	Type     string         `json:"type"`
	Selected string         `json:"selected"`
	Body     *SelectionInfo `json:"body"`
}

// SelectionInfo is what the info panel shows for a body.
type SelectionInfo struct {
	Name   string    `json:"name"`
	Kind   body.Kind `json:"kind"`
	Radius float64   `json:"radius"`
	Color  string    `json:"color"`
	Parent string    `json:"parent,omitempty"`
	Info   body.Info `json:"info"`
}

// Describe returns the info panel fields for b, or nil.
func Describe(b *body.CelestialBody) *SelectionInfo {
	if b == nil {
		return nil
	}
	return &SelectionInfo{
		Name:   b.Name,
		Kind:   b.Kind,
		Radius: b.Radius,
		Color:  b.Color.Hex(),
		Parent: b.Parent,
		Info:   b.Info,
	}
}

func (h *Handler) selectionMessage(name string) SelectionMessage {
	msg := SelectionMessage{Type: "selection", Selected: name}
	if name != "" {
		if b, err := h.scene.Registry().GetByName(name); err == nil {
			msg.Body = Describe(b)
		}
	}
	return msg
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, r.Header.Get("Origin"))
}

// HandleWS upgrades to the websocket control channel.
// GET /api/v1/ws
//
// Clients send Command objects; each gets an "ack" or "error" reply with
// the same id. Selection changes from any client are pushed to every
// connection as "selection" messages.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	ip, release, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		metrics.IncStreamErrors("upgrade")
		h.logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	startTime := time.Now()
	h.logger.Info("control channel connected", "remote_ip", ip, "session", session)
	defer func() {
		h.logger.Info("control channel disconnected",
			"remote_ip", ip,
			"session", session,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	selections, unsubscribe := h.scene.Subscribe()
	defer unsubscribe()

	// The request context survives the hijack and ends with server shutdown.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan any, 16)
	hello := helloMessage{Type: "hello", Session: session}
	if b := h.scene.Selected(); b != nil {
		hello.Selected = b.Name
	}
	out <- hello

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			cancel()
			// Unblock the reader if the writer stopped first.
			conn.SetReadDeadline(time.Now().Add(time.Second))
		}()
		if err := h.writeLoop(ctx, conn, out, selections); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("control channel write error", "session", session, "error", err)
		}
	}()

	h.readLoop(ctx, conn, session, out)
	cancel()
	wg.Wait()
}

// readLoop handles commands until the peer goes away or ctx ends.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session string, out chan<- any) {
	readWait := 2 * h.config.PingInterval
	conn.SetReadLimit(maxCommandBytes)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	send := func(v any) bool {
		select {
		case out <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}

	limiter := rate.NewLimiter(rate.Limit(h.config.CommandRate), h.config.CommandBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("control channel read error", "session", session, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			if !send(errorMessage{Type: "error", Error: "malformed command"}) {
				return
			}
			continue
		}
		if !limiter.Allow() {
			metrics.IncRateLimited("ws")
			if !send(errorMessage{Type: "error", ID: cmd.ID, Error: "rate limit exceeded"}) {
				return
			}
			continue
		}
		metrics.IncWSCommands(cmd.metricLabel())

		cctx, ccancel := context.WithTimeout(ctx, h.config.CommandTimeout)
		pick, err := Execute(cctx, h.scene, cmd)
		ccancel()

		var reply any = ackMessage{Type: "ack", ID: cmd.ID, Command: cmd.Type, Pick: pick}
		if err != nil {
			reply = errorMessage{Type: "error", ID: cmd.ID, Error: err.Error()}
		}
		if !send(reply) || errors.Is(err, scene.ErrClosed) {
			return
		}
	}
}

// writeLoop is the connection's only writer.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan any, selections <-chan string) error {
	ping := time.NewTicker(h.config.PingInterval)
	defer ping.Stop()

	write := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			return err
		}
		metrics.IncStreamMessages()
		return nil
	}
	closeWith := func(code int) {
		msg := websocket.FormatCloseMessage(code, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}

	for {
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseNormalClosure)
			return nil
		case v := <-out:
			if err := write(v); err != nil {
				return err
			}
		case name, ok := <-selections:
			if !ok {
				closeWith(websocket.CloseGoingAway)
				return nil
			}
			if err := write(h.selectionMessage(name)); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				return err
			}
		}
	}
}
