// Package mission holds mission-game state. Each mission is owned by one
// Controller; views read copies and change state only through its methods.
package mission

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnknownObjective = errors.New("unknown objective")
	ErrUnknownCrew      = errors.New("unknown crew member")
	ErrInvalidStatus    = errors.New("invalid crew status")
)

// Crew statuses.
const (
	StatusIdle    = "Idle"
	StatusTasking = "Tasking..."
)

const maxStatusLen = 64

// Status is the lifecycle stage of a mission.
type Status string

const (
	Planned   Status = "Planned"
	Active    Status = "Active"
	Completed Status = "Completed"
)

type Objective struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

type CrewMember struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// State is a copy of one mission's state.
type State struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      Status       `json:"status,omitempty"`
	Objectives  []Objective  `json:"objectives"`
	Crew        []CrewMember `json:"crew"`
	Progress    int          `json:"progress"`
	ImageURL    string       `json:"image_url,omitempty"`
}

func (s State) clone() State {
	s.Objectives = append([]Objective{}, s.Objectives...)
	s.Crew = append([]CrewMember{}, s.Crew...)
	return s
}

// Progress returns round(100*completed/total), or 0 with no objectives.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// Template returns the initial state for id. Missions without a template
// get a placeholder with no objectives or crew.
func Template(id string) State {
	if id == "kepler-186f" {
		return State{
			ID:          "kepler-186f",
			Title:       "Explore Kepler-186f",
			Description: "Chart the surface and analyze atmospheric composition of the exoplanet Kepler-186f.",
			Status:      Active,
			Objectives: []Objective{
				{ID: "deploy_rover", Description: "Deploy Surface Rover 'Pathfinder'"},
				{ID: "scan_terrain_samples", Description: "Collect & Scan 3 Terrain Samples"},
				{ID: "measure_atmosphere", Description: "Measure Atmospheric Composition"},
				{ID: "return_data_to_ship", Description: "Return All Collected Data to Orbital Ship"},
			},
			Crew: []CrewMember{
				{Name: "Dr. Aris Thorne", Role: "Commander", Status: StatusIdle, AvatarURL: "https://placehold.co/64x64/1A001A/39FF14.png?text=AT"},
				{Name: "Nova", Role: "Rover Specialist", Status: StatusIdle, AvatarURL: "https://placehold.co/64x64/1A001A/7DF9FF.png?text=NV"},
				{Name: "Orion Kael", Role: "Scientist", Status: StatusIdle, AvatarURL: "https://placehold.co/64x64/1A001A/FFFFFF.png?text=OK"},
				{Name: "TARS Unit 7", Role: "Android", Status: StatusIdle, AvatarURL: "https://placehold.co/64x64/1A001A/999999.png?text=T7"},
			},
			ImageURL: "https://placehold.co/600x300/1A001A/39FF14.png?text=Kepler-186f",
		}
	}
	return State{
		ID:         id,
		Title:      "Mission: " + id,
		Objectives: []Objective{},
		Crew:       []CrewMember{},
	}
}

// Controller owns the state of one mission. Safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	state  State
	timers map[string]*time.Timer
	closed bool

	taskDelay func() time.Duration
	logger    *slog.Logger
}

// DefaultTaskDelay returns a random crew task duration between 2 and 5s.
func DefaultTaskDelay(rng *rand.Rand) func() time.Duration {
	var mu sync.Mutex
	return func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return 2*time.Second + time.Duration(rng.Float64()*float64(3*time.Second))
	}
}

// NewController loads mission id. taskDelay picks how long a tasked crew
// member stays busy; nil uses DefaultTaskDelay.
func NewController(id string, taskDelay func() time.Duration, logger *slog.Logger) *Controller {
	if taskDelay == nil {
		taskDelay = DefaultTaskDelay(rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	c := &Controller{
		timers:    make(map[string]*time.Timer),
		taskDelay: taskDelay,
		logger:    logger,
	}
	c.state = Template(id)
	return c
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Load replaces the state with mission id's initial state.
func (c *Controller) Load(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimersLocked()
	c.state = Template(id)
	return c.state.clone()
}

// CompleteObjective marks an objective done and recomputes progress.
// Completing a finished objective changes nothing.
func (c *Controller) CompleteObjective(objectiveID string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.completeLocked(objectiveID); err != nil {
		return State{}, err
	}
	return c.state.clone(), nil
}

func (c *Controller) completeLocked(objectiveID string) error {
	found := false
	done := 0
	for i := range c.state.Objectives {
		o := &c.state.Objectives[i]
		if o.ID == objectiveID {
			o.Completed = true
			found = true
		}
		if o.Completed {
			done++
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownObjective, objectiveID)
	}
	c.state.Progress = Progress(done, len(c.state.Objectives))
	return nil
}

// UpdateCrewStatus sets a crew member's status.
func (c *Controller) UpdateCrewStatus(name, status string) (State, error) {
	status = strings.TrimSpace(status)
	if status == "" || len(status) > maxStatusLen {
		return State{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.setStatusLocked(name, status); err != nil {
		return State{}, err
	}
	return c.state.clone(), nil
}

func (c *Controller) setStatusLocked(name, status string) error {
	for i := range c.state.Crew {
		if c.state.Crew[i].Name == name {
			c.state.Crew[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCrew, name)
}

// TaskCrew completes objectiveID with crew member name. The member shows
// StatusTasking and returns to StatusIdle after the task delay. An
// objective that is already complete is left alone and nobody is tasked.
func (c *Controller) TaskCrew(objectiveID, name string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var obj *Objective
	for i := range c.state.Objectives {
		if c.state.Objectives[i].ID == objectiveID {
			obj = &c.state.Objectives[i]
		}
	}
	if obj == nil {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownObjective, objectiveID)
	}
	if name != "" {
		if err := c.checkCrewLocked(name); err != nil {
			return State{}, err
		}
	}
	if obj.Completed {
		return c.state.clone(), nil
	}

	if err := c.completeLocked(objectiveID); err != nil {
		return State{}, err
	}
	if name == "" {
		return c.state.clone(), nil
	}

	c.setStatusLocked(name, StatusTasking)
	if t, ok := c.timers[name]; ok {
		t.Stop()
	}
	delay := c.taskDelay()
	missionID := c.state.ID
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.timers[name] != t || c.state.ID != missionID {
			return
		}
		delete(c.timers, name)
		c.setStatusLocked(name, StatusIdle)
		c.logger.Debug("crew task complete", "mission", missionID, "crew", name)
	})
	c.timers[name] = t
	c.logger.Info("crew tasked", "mission", missionID, "objective", objectiveID, "crew", name, "delay_ms", delay.Milliseconds())
	return c.state.clone(), nil
}

func (c *Controller) checkCrewLocked(name string) error {
	for _, m := range c.state.Crew {
		if m.Name == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCrew, name)
}

// Reset restores the loaded mission's initial state and cancels pending
// crew tasks.
func (c *Controller) Reset() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimersLocked()
	c.state = Template(c.state.ID)
	return c.state.clone()
}

// Close cancels pending crew tasks. Later timers never fire.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimersLocked()
}

func (c *Controller) stopTimersLocked() {
	for name, t := range c.timers {
		t.Stop()
		delete(c.timers, name)
	}
}
