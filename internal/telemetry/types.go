// Package telemetry tracks the live position of one satellite.
//
// A Source produces a single Position per call. The HTTP source reads the
// wheretheiss.at JSON document and the SGP4 source propagates a two-line
// element set offline. A Poller calls its Source on a fixed interval and
// keeps the last valid Position when a call fails.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidResponse marks a response that parsed but failed validation.
var ErrInvalidResponse = errors.New("invalid telemetry response")

// Position is one telemetry sample. Altitude is in km, velocity in km/h and
// the timestamp in Unix seconds.
type Position struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   float64 `json:"altitude"`
	Velocity   float64 `json:"velocity"`
	Visibility string  `json:"visibility"`
	Timestamp  int64   `json:"timestamp"`
}

// Time returns the sample timestamp.
func (p Position) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// Validate checks ranges and rejects non-finite values.
func (p Position) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"latitude", p.Latitude},
		{"longitude", p.Longitude},
		{"altitude", p.Altitude},
		{"velocity", p.Velocity},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidResponse, f.name)
		}
	}
	switch {
	case p.Latitude < -90 || p.Latitude > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidResponse, p.Latitude)
	case p.Longitude < -180 || p.Longitude > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidResponse, p.Longitude)
	case p.Altitude < 0:
		return fmt.Errorf("%w: negative altitude %v", ErrInvalidResponse, p.Altitude)
	case p.Velocity < 0:
		return fmt.Errorf("%w: negative velocity %v", ErrInvalidResponse, p.Velocity)
	case p.Timestamp <= 0:
		return fmt.Errorf("%w: missing timestamp", ErrInvalidResponse)
	}
	return nil
}

// Source produces telemetry samples.
type Source interface {
	Fetch(ctx context.Context) (Position, error)
	Name() string
}

// Status describes the health of the most recent fetch attempts.
type Status struct {
	Source              string    `json:"source"`
	OK                  bool      `json:"ok"`
	Error               string    `json:"error,omitempty"`
	LastAttempt         time.Time `json:"last_attempt"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
