package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/spacecommand/internal/metrics"
)

// eventWriter encodes server-sent events onto one response. Each event is
// written and flushed as a unit under a fresh write deadline.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	timeout time.Duration
	logger  *slog.Logger

	events int64
	bytes  int64
	buf    strings.Builder
}

func newEventWriter(w http.ResponseWriter, flusher http.Flusher, timeout time.Duration, logger *slog.Logger) *eventWriter {
	return &eventWriter{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		timeout: timeout,
		logger:  logger,
	}
}

// flush writes the buffered fields followed by the blank line that ends an
// event.
func (e *eventWriter) flush() error {
	e.buf.WriteByte('\n')
	defer e.buf.Reset()

	if e.timeout > 0 {
		if err := e.rc.SetWriteDeadline(time.Now().Add(e.timeout)); err != nil {
			e.logger.Debug("could not set write deadline", "error", err)
		}
	}
	n, err := io.WriteString(e.w, e.buf.String())
	e.bytes += int64(n)
	metrics.AddStreamBytes(int64(n))
	if err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// frame sends data as one message. A non-zero id is sent as the event id
// so a reconnecting browser reports the last frame it saw.
func (e *eventWriter) frame(id uint64, data []byte) error {
	if id > 0 {
		e.buf.WriteString("id: ")
		e.buf.WriteString(strconv.FormatUint(id, 10))
		e.buf.WriteByte('\n')
	}
	e.buf.WriteString("data: ")
	e.buf.Write(data)
	e.buf.WriteByte('\n')
	if err := e.flush(); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	e.events++
	metrics.IncStreamMessages()
	return nil
}

// message sends v JSON-encoded, without an event id.
func (e *eventWriter) message(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return e.frame(0, data)
}

// retry sets the browser's reconnect delay.
func (e *eventWriter) retry(d time.Duration) error {
	fmt.Fprintf(&e.buf, "retry: %d\n", d.Milliseconds())
	if err := e.flush(); err != nil {
		return fmt.Errorf("writing retry: %w", err)
	}
	return nil
}

// ping sends an empty comment to keep intermediaries from closing an idle
// stream.
func (e *eventWriter) ping() error {
	e.buf.WriteString(":\n")
	if err := e.flush(); err != nil {
		return fmt.Errorf("writing keepalive: %w", err)
	}
	return nil
}
