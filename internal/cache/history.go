// Package cache provides an in-memory frame history with a rolling window.
//
// The scene loop puts one entry per published frame. Entries older than the
// configured capacity are evicted from the trailing edge on every put, so
// memory stays bounded no matter how long the simulation runs. Readers use
// the history to draw orbital trails without touching live body state.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/star/spacecommand/internal/metrics"
)

// History is a rolling window of values keyed by frame number.
// Safe for concurrent use by multiple goroutines.
type History[T any] struct {
	mu       sync.RWMutex
	entries  map[uint64]T
	newest   uint64
	hasAny   bool
	capacity int

	logger  *slog.Logger
	observe bool

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures a History.
type Option func(*options)

type options struct {
	unobserved bool
}

// WithoutMetrics keeps the history's lookups and evictions out of the
// process-wide Prometheus counters. The Stats counters still move.
func WithoutMetrics() Option {
	return func(o *options) { o.unobserved = true }
}

// NewHistory creates a history that keeps the most recent capacity frames.
// A capacity below 1 is raised to 1.
func NewHistory[T any](capacity int, logger *slog.Logger, opts ...Option) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.unobserved {
		logger.Debug("frame history initialized", "capacity", capacity, "metrics", false)
	} else {
		logger.Info("frame history initialized", "capacity", capacity)
	}

	return &History[T]{
		entries:  make(map[uint64]T, capacity),
		capacity: capacity,
		logger:   logger,
		observe:  !o.unobserved,
	}
}

// Capacity returns the number of frames retained.
func (h *History[T]) Capacity() int {
	return h.capacity
}

// Put stores v for frame and evicts everything that fell out of the window.
// Frames must be put in increasing order; an older frame than the newest is
// still stored if it is inside the window.
func (h *History[T]) Put(frame uint64, v T) {
	h.mu.Lock()
	if frame+uint64(h.capacity) <= h.newest && h.hasAny {
		h.mu.Unlock()
		return
	}
	h.entries[frame] = v
	if !h.hasAny || frame > h.newest {
		h.newest = frame
		h.hasAny = true
	}
	removed := h.evictLocked()
	h.mu.Unlock()

	if removed > 0 {
		h.evictions.Add(int64(removed))
		if !h.observe {
			return
		}
		for i := 0; i < removed; i++ {
			metrics.IncHistoryEvictions()
		}
	}
}

// evictLocked removes entries older than newest-capacity+1. Caller holds mu.
func (h *History[T]) evictLocked() int {
	if h.newest+1 <= uint64(h.capacity) {
		return 0
	}
	cutoff := h.newest + 1 - uint64(h.capacity)
	var removed int
	for f := range h.entries {
		if f < cutoff {
			delete(h.entries, f)
			removed++
		}
	}
	return removed
}

// Get returns the value stored for frame.
func (h *History[T]) Get(frame uint64) (T, bool) {
	h.mu.RLock()
	v, ok := h.entries[frame]
	h.mu.RUnlock()

	switch {
	case ok:
		h.hits.Add(1)
	default:
		h.misses.Add(1)
	}
	if h.observe {
		if ok {
			metrics.IncHistoryHits()
		} else {
			metrics.IncHistoryMisses()
		}
	}
	return v, ok
}

// GetLatest returns the newest stored value.
func (h *History[T]) GetLatest() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var zero T
	if !h.hasAny {
		return zero, false
	}
	v, ok := h.entries[h.newest]
	return v, ok
}

// GetRecent returns up to count values ending at the newest frame, ordered
// oldest-first. Missing frames are skipped.
func (h *History[T]) GetRecent(count int) []T {
	if count <= 0 {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasAny {
		return nil
	}
	if count > h.capacity {
		count = h.capacity
	}

	result := make([]T, 0, count)
	for i := count - 1; i >= 0; i-- {
		if uint64(i) > h.newest {
			continue
		}
		if v, ok := h.entries[h.newest-uint64(i)]; ok {
			result = append(result, v)
		}
	}
	return result
}

// Clear drops every entry. Counters are kept.
func (h *History[T]) Clear() {
	h.mu.Lock()
	h.entries = make(map[uint64]T, h.capacity)
	h.hasAny = false
	h.newest = 0
	h.mu.Unlock()
	h.logger.Debug("frame history cleared")
}

// Stats holds history statistics.
type Stats struct {
	Entries   int    `json:"entries"`
	Oldest    uint64 `json:"oldest"`
	Newest    uint64 `json:"newest"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions"`
}

// Stats returns current history statistics.
func (h *History[T]) Stats() Stats {
	h.mu.RLock()
	count := len(h.entries)
	var oldest uint64
	first := true
	for f := range h.entries {
		if first || f < oldest {
			oldest = f
			first = false
		}
	}
	newest := h.newest
	h.mu.RUnlock()

	return Stats{
		Entries:   count,
		Oldest:    oldest,
		Newest:    newest,
		Hits:      h.hits.Load(),
		Misses:    h.misses.Load(),
		Evictions: h.evictions.Load(),
	}
}
