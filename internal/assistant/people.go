package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultPeopleURL serves the list of people currently in space.
const DefaultPeopleURL = "https://www.howmanypeopleareinspacerightnow.com/peopleinspace.json"

const maxPeopleBytes = 1 << 20

// ErrInvalidPeople marks a people-in-space document that failed validation.
var ErrInvalidPeople = errors.New("invalid data structure received from API")

// Astronaut is one person in space.
type Astronaut struct {
	Name         string   `json:"name"`
	Title        *string  `json:"title,omitempty"`
	Country      string   `json:"country"`
	CountryFlag  string   `json:"countryflag"`
	LaunchDate   string   `json:"launchdate"`
	DaysInSpace  float64  `json:"daysinspace"`
	CareerDays   *float64 `json:"careerdays,omitempty"`
	BioLink      *string  `json:"biolink,omitempty"`
	Twitter      *string  `json:"twitter,omitempty"`
	ProfileImage *string  `json:"profileimage,omitempty"`
	Location     string   `json:"location"`
	Spacecraft   string   `json:"spacecraft"`
}

// People is the people-in-space document.
type People struct {
	Updated string      `json:"updated"`
	Number  int         `json:"number"`
	People  []Astronaut `json:"people"`
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func optionalURL(s *string) bool {
	return s == nil || *s == "" || validURL(*s)
}

// Validate checks required fields and URL shapes.
func (p People) Validate() error {
	if p.Number < 0 {
		return fmt.Errorf("%w: negative number", ErrInvalidPeople)
	}
	for i, a := range p.People {
		switch {
		case strings.TrimSpace(a.Name) == "":
			return fmt.Errorf("%w: person %d has no name", ErrInvalidPeople, i)
		case a.Country == "" || a.LaunchDate == "" || a.Location == "" || a.Spacecraft == "":
			return fmt.Errorf("%w: person %q is missing fields", ErrInvalidPeople, a.Name)
		case !validURL(a.CountryFlag):
			return fmt.Errorf("%w: person %q has an invalid flag URL", ErrInvalidPeople, a.Name)
		case !optionalURL(a.BioLink) || !optionalURL(a.Twitter) || !optionalURL(a.ProfileImage):
			return fmt.Errorf("%w: person %q has an invalid link", ErrInvalidPeople, a.Name)
		}
	}
	return nil
}

// PeopleFetcher downloads the people-in-space document.
type PeopleFetcher struct {
	url    string
	client *http.Client
}

// NewPeopleFetcher creates a fetcher with the given request timeout.
func NewPeopleFetcher(url string, timeout time.Duration) *PeopleFetcher {
	if url == "" {
		url = DefaultPeopleURL
	}
	return &PeopleFetcher{url: url, client: &http.Client{Timeout: timeout}}
}

// Fetch downloads and validates the document.
func (f *PeopleFetcher) Fetch(ctx context.Context) (People, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return People{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := f.client.Do(req)
	if err != nil {
		return People{}, fmt.Errorf("fetching people in space: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return People{}, fmt.Errorf("failed to fetch people in space data: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPeopleBytes+1))
	if err != nil {
		return People{}, fmt.Errorf("reading response: %w", err)
	}
	if len(body) > maxPeopleBytes {
		return People{}, fmt.Errorf("response exceeds %d byte limit", maxPeopleBytes)
	}

	var p People
	if err := json.Unmarshal(body, &p); err != nil {
		return People{}, fmt.Errorf("%w: %v", ErrInvalidPeople, err)
	}
	if err := p.Validate(); err != nil {
		return People{}, err
	}
	return p, nil
}

// PeopleState is what the dashboard card shows: the last good document, if
// any, and the most recent error.
type PeopleState struct {
	People    *People   `json:"people,omitempty"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// PeopleRefresher refreshes the people-in-space document on an interval.
type PeopleRefresher struct {
	fetch    func(context.Context) (People, error)
	interval time.Duration
	state    atomic.Pointer[PeopleState]
	logger   *slog.Logger
}

// NewPeopleRefresher creates a refresher around f.
func NewPeopleRefresher(f *PeopleFetcher, interval time.Duration, logger *slog.Logger) *PeopleRefresher {
	r := &PeopleRefresher{fetch: f.Fetch, interval: interval, logger: logger}
	r.state.Store(&PeopleState{})
	return r
}

// State returns the current state.
func (r *PeopleRefresher) State() PeopleState {
	return *r.state.Load()
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
func (r *PeopleRefresher) Run(ctx context.Context) error {
	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("people refresher stopped")
			return nil
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

// Refresh performs one fetch. A failure keeps the previous document.
func (r *PeopleRefresher) Refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p, err := r.fetch(ctx)
	if ctx.Err() != nil {
		return
	}

	prev := r.state.Load()
	next := *prev
	next.CheckedAt = time.Now().UTC()
	if err != nil {
		next.Error = err.Error()
		r.logger.Warn("people in space refresh failed", "error", err)
	} else {
		next.People = &p
		next.Error = ""
		next.FetchedAt = next.CheckedAt
		r.logger.Debug("people in space refreshed", "number", p.Number)
	}
	r.state.Store(&next)
}
