package scene

import (
	"errors"
	"fmt"
	"sync"

	"github.com/star/spacecommand/internal/body"
)

// ResourceKind classifies a visual resource.
type ResourceKind string

const (
	Geometry ResourceKind = "geometry"
	Material ResourceKind = "material"
	Texture  ResourceKind = "texture"
)

// ResourceID identifies one allocated resource.
type ResourceID uint64

// ErrReleased is returned when a resource is released twice.
var ErrReleased = errors.New("resource already released")

// Allocator creates and frees visual resources. A headless run uses
// MemoryAllocator; a renderer would wrap its GPU handles.
type Allocator interface {
	Allocate(kind ResourceKind, owner string) (ResourceID, error)
	Release(id ResourceID) error
}

// MemoryAllocator hands out IDs and counts live resources. Safe for
// concurrent use.
type MemoryAllocator struct {
	mu       sync.Mutex
	next     ResourceID
	live     map[ResourceID]ResourceKind
	released map[ResourceID]int
}

// NewMemoryAllocator returns an empty allocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{
		live:     make(map[ResourceID]ResourceKind),
		released: make(map[ResourceID]int),
	}
}

func (a *MemoryAllocator) Allocate(kind ResourceKind, owner string) (ResourceID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.live[a.next] = kind
	return a.next, nil
}

func (a *MemoryAllocator) Release(id ResourceID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released[id]++
	if _, ok := a.live[id]; !ok {
		return fmt.Errorf("%w: %d", ErrReleased, id)
	}
	delete(a.live, id)
	return nil
}

// Live returns the number of allocated, unreleased resources.
func (a *MemoryAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// ReleaseCount returns how many times id was released.
func (a *MemoryAllocator) ReleaseCount(id ResourceID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released[id]
}

// Resources tracks everything a scene session allocated so Close can release
// each item exactly once.
type Resources struct {
	alloc  Allocator
	held   []ResourceID
	closed bool
}

func newResources(alloc Allocator) *Resources {
	return &Resources{alloc: alloc}
}

// acquire allocates and records one resource.
func (r *Resources) acquire(kind ResourceKind, owner string) (ResourceID, error) {
	if r.closed {
		return 0, errors.New("resources closed")
	}
	id, err := r.alloc.Allocate(kind, owner)
	if err != nil {
		return 0, fmt.Errorf("allocating %s for %s: %w", kind, owner, err)
	}
	r.held = append(r.held, id)
	return id, nil
}

// Held returns the IDs currently tracked, in allocation order.
func (r *Resources) Held() []ResourceID {
	return append([]ResourceID(nil), r.held...)
}

// Close releases every tracked resource in reverse allocation order. Later
// calls do nothing.
func (r *Resources) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for i := len(r.held) - 1; i >= 0; i-- {
		if err := r.alloc.Release(r.held[i]); err != nil {
			errs = append(errs, err)
		}
	}
	r.held = nil
	return errors.Join(errs...)
}

// Scene-wide resource owners.
const (
	ownerStarfield = "starfield"
	ownerMilkyWay  = "milky_way"
	ownerAsteroids = "asteroid_belt"
)

// Open allocates every visual resource for the bodies in reg: a geometry and
// material per body, a texture when one is referenced, ring and orbit-line
// resources, and the scene backdrops. If any allocation fails, everything
// allocated so far is released before Open returns.
func Open(reg *body.Registry, alloc Allocator, withBelt bool) (*Resources, error) {
	r := newResources(alloc)
	if err := r.openAll(reg, withBelt); err != nil {
		if cerr := r.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	return r, nil
}

func (r *Resources) openAll(reg *body.Registry, withBelt bool) error {
	for _, b := range reg.GetAll() {
		if _, err := r.acquire(Geometry, b.Name); err != nil {
			return err
		}
		if _, err := r.acquire(Material, b.Name); err != nil {
			return err
		}
		if b.TextureRef != "" {
			if _, err := r.acquire(Texture, b.Name); err != nil {
				return err
			}
		}
		if b.Ring != nil {
			owner := b.Name + "/ring"
			if _, err := r.acquire(Geometry, owner); err != nil {
				return err
			}
			if _, err := r.acquire(Material, owner); err != nil {
				return err
			}
			if b.Ring.TextureRef != "" {
				if _, err := r.acquire(Texture, owner); err != nil {
					return err
				}
			}
		}
		switch b.Mode() {
		case body.ModeCircular, body.ModeElliptical:
			owner := b.Name + "/orbit"
			if _, err := r.acquire(Geometry, owner); err != nil {
				return err
			}
			if _, err := r.acquire(Material, owner); err != nil {
				return err
			}
		}
	}

	if _, err := r.acquire(Geometry, ownerStarfield); err != nil {
		return err
	}
	if _, err := r.acquire(Material, ownerStarfield); err != nil {
		return err
	}
	for _, kind := range []ResourceKind{Geometry, Material, Texture} {
		if _, err := r.acquire(kind, ownerMilkyWay); err != nil {
			return err
		}
	}
	if withBelt {
		if _, err := r.acquire(Geometry, ownerAsteroids); err != nil {
			return err
		}
		if _, err := r.acquire(Material, ownerAsteroids); err != nil {
			return err
		}
	}
	return nil
}
