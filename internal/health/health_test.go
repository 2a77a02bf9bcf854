package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestHealthz verifies the liveness probe always succeeds.
func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

// TestReadyz verifies readiness follows the ready callback.
func TestReadyz(t *testing.T) {
	ready := false
	h := Readyz(func() bool { return ready })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before first frame: got %d, want 503", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ready\n" {
		t.Errorf("after first frame: got %d %q", rec.Code, rec.Body.String())
	}
}
