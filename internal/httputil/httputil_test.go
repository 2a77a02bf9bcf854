package httputil

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// TestDecodeJSON verifies body validation.
func TestDecodeJSON(t *testing.T) {
	type payload struct {
		X int `json:"x"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"x": 3}`, false},
		{"empty", ``, true},
		{"unknown field", `{"y": 1}`, true},
		{"trailing data", `{"x": 1} {"x": 2}`, true},
		{"malformed", `{"x":`, true},
		{"too large", `{"x": 1, "pad": "` + strings.Repeat("a", MaxBodyBytes) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(httptest.NewRecorder(), r, &p)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, 3, p.X)
			}
		})
	}
}

// TestWriteError verifies the JSON error shape.
func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadGateway, "upstream failed")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"upstream failed"}`, rec.Body.String())
}

// TestRateLimitMiddleware verifies per-IP buckets and the 429 response.
func TestRateLimitMiddleware(t *testing.T) {
	l := NewIPRateLimiter(rate.Every(time.Hour), 2)
	h := l.Middleware("test", false, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("1.1.1.1").Code)
	assert.Equal(t, http.StatusNoContent, do("1.1.1.1").Code)
	rec := do("1.1.1.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another client has its own bucket.
	assert.Equal(t, http.StatusNoContent, do("2.2.2.2").Code)
	assert.Equal(t, 2, l.Len())
}

// TestSweep verifies idle IPs are forgotten.
func TestSweep(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.GetLimiter("a")
	now = now.Add(10 * time.Minute)
	l.GetLimiter("b")

	assert.Equal(t, 1, l.Sweep(5*time.Minute))
	assert.Equal(t, 1, l.Len())
}
