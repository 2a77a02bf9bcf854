package scene

import (
	"time"

	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/telemetry"
)

// Snapshot is one published frame. It is never modified after the loop
// publishes it, so any goroutine may read it.
type Snapshot struct {
	Frame         uint64          `json:"frame"`
	Elapsed       float64         `json:"elapsed"`
	RenderedAt    time.Time       `json:"rendered_at"`
	Bodies        []BodyState     `json:"bodies"`
	Camera        CameraState     `json:"camera"`
	Selected      string          `json:"selected,omitempty"`
	GalaxyOpacity float64         `json:"galaxy_opacity"`
	Telemetry     *TelemetryState `json:"telemetry,omitempty"`
}

// BodyState is a body's placement in one frame.
type BodyState struct {
	Name     string     `json:"name"`
	Kind     body.Kind  `json:"kind"`
	Position [3]float64 `json:"p"`
	Radius   float64    `json:"r"`
	Spin     float64    `json:"spin"`
	Color    string     `json:"color"`
	Parent   string     `json:"parent,omitempty"`
	U        *float64   `json:"u,omitempty"`
}

// CameraState is the camera pose and lens in one frame.
type CameraState struct {
	Position [3]float64 `json:"position"`
	Target   [3]float64 `json:"target"`
	FOV      float64    `json:"fov"`
	Aspect   float64    `json:"aspect"`
	Near     float64    `json:"near"`
	Far      float64    `json:"far"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Distance float64    `json:"distance"`
}

// TelemetryState is the tracked satellite sample the frame was built from.
type TelemetryState struct {
	Body     string             `json:"body"`
	Position telemetry.Position `json:"position"`
	Status   telemetry.Status   `json:"status"`
}

// Body returns the state of the named body, if it was placed this frame.
func (s *Snapshot) Body(name string) (BodyState, bool) {
	for _, b := range s.Bodies {
		if b.Name == name {
			return b, true
		}
	}
	return BodyState{}, false
}
