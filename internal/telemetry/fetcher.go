package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultSourceURL serves the current ISS position.
const DefaultSourceURL = "https://api.wheretheiss.at/v1/satellites/25544"

// maxBodyBytes bounds a telemetry response. The real document is ~300 bytes.
const maxBodyBytes = 1 << 20

// HTTPSource fetches a wheretheiss.at-shaped JSON document.
type HTTPSource struct {
	sourceURL  string
	httpClient *http.Client
}

// NewHTTPSource creates a source for url, or DefaultSourceURL when empty.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if url == "" {
		url = DefaultSourceURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		sourceURL:  url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the source URL.
func (s *HTTPSource) Name() string {
	return s.sourceURL
}

// Fetch performs one GET and validates the result.
func (s *HTTPSource) Fetch(ctx context.Context) (Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sourceURL, nil)
	if err != nil {
		return Position{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Position{}, fmt.Errorf("fetching telemetry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Position{}, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, s.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Position{}, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return Position{}, fmt.Errorf("%w: response exceeds %d byte limit", ErrInvalidResponse, maxBodyBytes)
	}

	var raw struct {
		Latitude   *float64 `json:"latitude"`
		Longitude  *float64 `json:"longitude"`
		Altitude   *float64 `json:"altitude"`
		Velocity   *float64 `json:"velocity"`
		Visibility string   `json:"visibility"`
		Timestamp  *float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if raw.Latitude == nil || raw.Longitude == nil || raw.Altitude == nil || raw.Timestamp == nil {
		return Position{}, fmt.Errorf("%w: missing required field", ErrInvalidResponse)
	}

	pos := Position{
		Latitude:   *raw.Latitude,
		Longitude:  *raw.Longitude,
		Altitude:   *raw.Altitude,
		Visibility: raw.Visibility,
		Timestamp:  int64(*raw.Timestamp),
	}
	if raw.Velocity != nil {
		pos.Velocity = *raw.Velocity
	}
	if err := pos.Validate(); err != nil {
		return Position{}, err
	}
	return pos, nil
}
