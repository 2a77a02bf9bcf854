package mission

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// MaxMissions bounds the number of missions a Store tracks.
const MaxMissions = 256

// ErrTooManyMissions is returned when a new mission would exceed MaxMissions.
var ErrTooManyMissions = errors.New("too many missions")

// Store hands out one Controller per mission id, creating it on first use.
type Store struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	taskDelay   func() time.Duration
	logger      *slog.Logger
}

// NewStore creates an empty store. taskDelay is passed to every controller.
func NewStore(taskDelay func() time.Duration, logger *slog.Logger) *Store {
	return &Store{
		controllers: make(map[string]*Controller),
		taskDelay:   taskDelay,
		logger:      logger,
	}
}

// Get returns the controller for id.
func (s *Store) Get(id string) (*Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[id]
	if !ok {
		if len(s.controllers) >= MaxMissions {
			return nil, ErrTooManyMissions
		}
		c = NewController(id, s.taskDelay, s.logger)
		s.controllers[id] = c
		s.logger.Info("mission loaded", "mission", id, "title", c.State().Title)
	}
	return c, nil
}

// Close cancels every controller's pending tasks.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.controllers {
		c.Close()
	}
}
