package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/star/spacecommand/internal/assistant"
	"github.com/star/spacecommand/internal/body"
	"github.com/star/spacecommand/internal/httputil"
	"github.com/star/spacecommand/internal/mission"
	"github.com/star/spacecommand/internal/planet"
	"github.com/star/spacecommand/internal/scene"
	"github.com/star/spacecommand/internal/stream"
	"github.com/star/spacecommand/internal/telemetry"
)

// Trajectory export limits for HTTP callers.
const (
	maxHTTPTrajectoryFrames = 10000
	defaultTrajectoryFrames = 100
	defaultTrajectoryDT     = 1.0 / 30
	maxMissionIDLen         = 64
)

type orbitView struct {
	Mode           string  `json:"mode"`
	Radius         float64 `json:"radius,omitempty"`
	RateCoeff      float64 `json:"rate_coeff,omitempty"`
	SemiMajor      float64 `json:"semi_major,omitempty"`
	SemiMinor      float64 `json:"semi_minor,omitempty"`
	Eccentricity   float64 `json:"eccentricity,omitempty"`
	Perihelion     float64 `json:"perihelion,omitempty"`
	Aphelion       float64 `json:"aphelion,omitempty"`
	PeriodYears    float64 `json:"period_years,omitempty"`
	InclinationDeg float64 `json:"inclination_deg,omitempty"`
}

type bodyView struct {
	Name       string      `json:"name"`
	Kind       body.Kind   `json:"kind"`
	Radius     float64     `json:"radius"`
	Color      string      `json:"color"`
	Texture    string      `json:"texture,omitempty"`
	Parent     string      `json:"parent,omitempty"`
	Selectable bool        `json:"selectable"`
	HasRing    bool        `json:"has_ring"`
	Orbit      orbitView   `json:"orbit"`
	Info       body.Info   `json:"info"`
	Position   *[3]float64 `json:"position,omitempty"`
}

func newBodyView(b *body.CelestialBody, snap *scene.Snapshot) bodyView {
	v := bodyView{
		Name:       b.Name,
		Kind:       b.Kind,
		Radius:     b.Radius,
		Color:      b.Color.Hex(),
		Texture:    b.TextureRef,
		Parent:     b.Parent,
		Selectable: b.Selectable,
		HasRing:    b.Ring != nil,
		Orbit:      orbitView{Mode: b.Mode().String()},
		Info:       b.Info,
	}
	switch {
	case b.Circular != nil:
		v.Orbit.Radius = b.Circular.Radius
		v.Orbit.RateCoeff = b.Circular.RateCoeff
		v.Orbit.InclinationDeg = b.Circular.Inclination * 180 / math.Pi
	case b.Elliptical != nil:
		p := b.Elliptical
		v.Orbit.SemiMajor = p.SemiMajor
		v.Orbit.SemiMinor = p.SemiMinor
		v.Orbit.Eccentricity = p.Eccentricity
		v.Orbit.Perihelion = p.Perihelion
		v.Orbit.Aphelion = p.Aphelion
		v.Orbit.PeriodYears = p.PeriodYears
		v.Orbit.InclinationDeg = p.Inclination * 180 / math.Pi
	}
	if snap != nil {
		if st, ok := snap.Body(b.Name); ok {
			pos := st.Position
			v.Position = &pos
		}
	}
	return v
}

func (s *Server) handleBodies(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Scene.Snapshot()
	all := s.deps.Scene.Registry().GetAll()
	out := make([]bodyView, len(all))
	for i, b := range all {
		out[i] = newBodyView(b, snap)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"count": len(out), "bodies": out})
}

func (s *Server) handleBody(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Scene.Registry().GetByName(r.PathValue("name"))
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newBodyView(b, s.deps.Scene.Snapshot()))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Scene.Snapshot()
	if snap == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no frame published yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// execute runs one scene command with the request's deadline.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd stream.Command) (*scene.PickResult, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CommandTimeout)
	defer cancel()
	res, err := stream.Execute(ctx, s.deps.Scene, cmd)
	if err != nil {
		s.writeCommandError(w, err)
		return nil, false
	}
	return res, true
}

func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stream.ErrInvalidCommand), errors.Is(err, stream.ErrUnknownCommand):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scene.ErrClosed):
		httputil.WriteError(w, http.StatusServiceUnavailable, "scene loop stopped")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httputil.WriteError(w, http.StatusServiceUnavailable, "scene loop did not answer in time")
	default:
		s.logger.Error("scene command failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

type pickRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	var req pickRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, ok := s.execute(w, r, stream.Command{Type: stream.CmdPick, X: req.X, Y: req.Y})
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type resizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.execute(w, r, stream.Command{Type: stream.CmdResize, Width: req.Width, Height: req.Height}); !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"width": req.Width, "height": req.Height})
}

type cameraRequest struct {
	Action string  `json:"action"`
	Factor float64 `json:"factor,omitempty"`
	DTheta float64 `json:"d_theta,omitempty"`
	DPhi   float64 `json:"d_phi,omitempty"`
}

var cameraActions = map[string]string{
	"zoom_in":  stream.CmdZoomIn,
	"zoom_out": stream.CmdZoomOut,
	"zoom":     stream.CmdZoom,
	"reset":    stream.CmdReset,
	"rotate":   stream.CmdRotate,
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, ok := cameraActions[req.Action]
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "action must be one of zoom_in, zoom_out, zoom, reset, rotate")
		return
	}
	cmd := stream.Command{Type: kind, Factor: req.Factor, DTheta: req.DTheta, DPhi: req.DPhi}
	if _, ok := s.execute(w, r, cmd); !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"action": req.Action})
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"selected": stream.Describe(s.deps.Scene.Selected())})
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.execute(w, r, stream.Command{Type: stream.CmdClear}); !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"selected": nil})
}

type telemetryView struct {
	Enabled  bool                `json:"enabled"`
	Body     string              `json:"body,omitempty"`
	Position *telemetry.Position `json:"position,omitempty"`
	Status   *telemetry.Status   `json:"status,omitempty"`
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	feed := s.deps.Telemetry
	if feed == nil {
		httputil.WriteJSON(w, http.StatusOK, telemetryView{})
		return
	}
	status := feed.Status()
	v := telemetryView{Enabled: true, Body: s.deps.SceneConfig.TrackedBody, Status: &status}
	if pos, ok := feed.Latest(); ok {
		v.Position = &pos
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) writeAssistantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrInvalidRequest), errors.Is(err, assistant.ErrUnknownOption):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, assistant.ErrUnavailable):
		httputil.WriteError(w, http.StatusBadGateway, assistant.ErrUnavailable.Error())
	default:
		s.logger.Error("assistant request failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.deps.Assistant.Chat(r.Context(), req)
	if err != nil {
		s.writeAssistantError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req assistant.ExplainRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.deps.Assistant.Explain(r.Context(), req)
	if err != nil {
		s.writeAssistantError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDailyQuiz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, assistant.DailyQuestion())
}

type quizAnswerRequest struct {
	OptionID string `json:"option_id"`
}

func (s *Server) handleDailyQuizAnswer(w http.ResponseWriter, r *http.Request) {
	var req quizAnswerRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Assistant.AnswerQuiz(r.Context(), assistant.DailyQuestion(), req.OptionID)
	if err != nil {
		s.writeAssistantError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	if s.deps.People == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "people in space is disabled")
		return
	}
	state := s.deps.People.State()
	if state.People == nil {
		msg := "people in space data not fetched yet"
		if state.Error != "" {
			msg = "people in space unavailable: " + state.Error
		}
		httputil.WriteError(w, http.StatusServiceUnavailable, msg)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

// mission returns the controller named by the {id} path value.
func (s *Server) mission(w http.ResponseWriter, r *http.Request) (*mission.Controller, bool) {
	id := r.PathValue("id")
	if id == "" || len(id) > maxMissionIDLen {
		httputil.WriteError(w, http.StatusBadRequest, "invalid mission id")
		return nil, false
	}
	c, err := s.deps.Missions.Get(id)
	if err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	return c, true
}

func writeMissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mission.ErrUnknownObjective), errors.Is(err, mission.ErrUnknownCrew):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	default:
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleMission(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mission(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.State())
}

func (s *Server) handleCompleteObjective(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mission(w, r)
	if !ok {
		return
	}
	state, err := c.CompleteObjective(r.PathValue("objective"))
	if err != nil {
		writeMissionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

// crewRequest either sets a status directly or tasks the member with an
// objective.
type crewRequest struct {
	Status    string `json:"status,omitempty"`
	Objective string `json:"objective,omitempty"`
}

func (s *Server) handleCrew(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mission(w, r)
	if !ok {
		return
	}
	var req crewRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.PathValue("name")

	var (
		state mission.State
		err   error
	)
	switch {
	case req.Objective != "" && req.Status != "":
		httputil.WriteError(w, http.StatusBadRequest, "set either status or objective, not both")
		return
	case req.Objective != "":
		state, err = c.TaskCrew(req.Objective, name)
	default:
		state, err = c.UpdateCrewStatus(name, req.Status)
	}
	if err != nil {
		writeMissionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (s *Server) handleMissionReset(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mission(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.Reset())
}

func (s *Server) handlePlanetPreview(w http.ResponseWriter, r *http.Request) {
	var form planet.Form
	if err := httputil.DecodeJSON(w, r, &form); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	preview, err := planet.Generate(form)
	if err != nil {
		var fe *planet.FieldError
		if errors.As(err, &fe) {
			httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": fe.Message, "field": fe.Field})
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, preview)
}

// GET /api/v1/trajectory.csv?frames=100&dt=0.033&bodies=Earth,Mars
func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := scene.TrajectoryOptions{Frames: defaultTrajectoryFrames, DT: defaultTrajectoryDT}
	if v := q.Get("frames"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHTTPTrajectoryFrames {
			httputil.WriteError(w, http.StatusBadRequest, "invalid frames parameter, must be 1-"+strconv.Itoa(maxHTTPTrajectoryFrames))
			return
		}
		opts.Frames = n
	}
	if v := q.Get("dt"); v != "" {
		dt, err := strconv.ParseFloat(v, 64)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid dt parameter")
			return
		}
		opts.DT = dt
	}
	if v := q.Get("bodies"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				opts.Bodies = append(opts.Bodies, name)
			}
		}
	}

	reg, err := s.deps.Catalog()
	if err != nil {
		s.logger.Error("building catalog for trajectory failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	rows, err := scene.Trajectory(r.Context(), reg, s.deps.SceneConfig, opts, s.logger)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trajectory.csv"`)
	if err := scene.WriteTrajectoryCSV(w, rows); err != nil {
		s.logger.Warn("writing trajectory failed", "error", err)
	}
}
