package stream

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/star/spacecommand/internal/scene"
)

// Command errors.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command")
)

// Command types accepted by Execute.
const (
	CmdPick    = "pick"
	CmdResize  = "resize"
	CmdZoom    = "zoom"
	CmdZoomIn  = "zoom_in"
	CmdZoomOut = "zoom_out"
	CmdRotate  = "rotate"
	CmdReset   = "reset"
	CmdClear   = "clear"
)

// Commander applies interaction commands to the scene. *scene.Loop
// implements it.
type Commander interface {
	Pick(ctx context.Context, x, y float64) (scene.PickResult, error)
	Resize(ctx context.Context, width, height int) error
	Zoom(ctx context.Context, factor float64) error
	Rotate(ctx context.Context, dTheta, dPhi float64) error
	ResetView(ctx context.Context) error
	ClearSelection(ctx context.Context) error
}

// Command is one control message. Only the fields its Type needs are read.
type Command struct {
	ID     string  `json:"id,omitempty"`
	Type   string  `json:"type"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	Factor float64 `json:"factor,omitempty"`
	DTheta float64 `json:"d_theta,omitempty"`
	DPhi   float64 `json:"d_phi,omitempty"`
}

// metricLabel bounds the command label set.
func (c Command) metricLabel() string {
	switch c.Type {
	case CmdPick, CmdResize, CmdZoom, CmdZoomIn, CmdZoomOut, CmdRotate, CmdReset, CmdClear:
		return c.Type
	}
	return "unknown"
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Execute validates cmd and applies it through c. Only pick returns a
// result. Validation failures wrap ErrInvalidCommand or ErrUnknownCommand.
func Execute(ctx context.Context, c Commander, cmd Command) (*scene.PickResult, error) {
	switch cmd.Type {
	case CmdPick:
		if !finite(cmd.X, cmd.Y) {
			return nil, fmt.Errorf("%w: pick needs finite x and y", ErrInvalidCommand)
		}
		res, err := c.Pick(ctx, cmd.X, cmd.Y)
		if err != nil {
			return nil, err
		}
		return &res, nil
	case CmdResize:
		if cmd.Width <= 0 || cmd.Height <= 0 {
			return nil, fmt.Errorf("%w: width and height must be positive", ErrInvalidCommand)
		}
		return nil, c.Resize(ctx, cmd.Width, cmd.Height)
	case CmdZoom:
		if cmd.Factor <= 0 || !finite(cmd.Factor) {
			return nil, fmt.Errorf("%w: zoom factor must be positive", ErrInvalidCommand)
		}
		return nil, c.Zoom(ctx, cmd.Factor)
	case CmdZoomIn:
		return nil, c.Zoom(ctx, scene.ZoomInFactor)
	case CmdZoomOut:
		return nil, c.Zoom(ctx, scene.ZoomOutFactor)
	case CmdRotate:
		if !finite(cmd.DTheta, cmd.DPhi) {
			return nil, fmt.Errorf("%w: rotate needs finite angles", ErrInvalidCommand)
		}
		return nil, c.Rotate(ctx, cmd.DTheta, cmd.DPhi)
	case CmdReset:
		return nil, c.ResetView(ctx)
	case CmdClear:
		return nil, c.ClearSelection(ctx)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Type)
}
