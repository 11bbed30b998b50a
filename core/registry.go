package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

var (
	// ErrInvalidFence indicates a fence definition failed validation.
	ErrInvalidFence = errors.New("invalid fence")
	// ErrFenceNotFound indicates a requested fence was not found.
	ErrFenceNotFound = errors.New("fence not found")
	// ErrCapacityExceeded indicates the active-monitoring capacity is full.
	ErrCapacityExceeded = errors.New("active fence capacity exceeded")
)

// FenceEventType indicates what kind of change happened in the registry.
type FenceEventType int

const (
	FenceCreated FenceEventType = iota
	FenceActivated
	FenceDeactivated
	FenceDeleted
)

// FenceEvent is emitted to subscribers when a fence changes.
type FenceEvent struct {
	Type  FenceEventType
	Fence model.Fence
}

// FenceRegistry is an in-memory, thread-safe store of fence
// definitions. It is the sole owner of fence records and enforces the
// active-monitoring capacity: at most maxActive fences can have
// Monitoring set at any point in time.
type FenceRegistry struct {
	mu sync.RWMutex

	maxActive int
	fences    map[string]*model.Fence

	subs []func(FenceEvent)
}

// ListFilter selects which fences List returns.
type ListFilter int

const (
	ListAll ListFilter = iota
	ListActive
)

// NewFenceRegistry constructs an empty registry with the given
// active-monitoring capacity.
func NewFenceRegistry(maxActive int) *FenceRegistry {
	if maxActive < 1 {
		maxActive = 1
	}
	return &FenceRegistry{
		maxActive: maxActive,
		fences:    make(map[string]*model.Fence),
	}
}

// MaxActive reports the configured capacity.
func (r *FenceRegistry) MaxActive() int { return r.maxActive }

// Create validates and stores a new fence, returning its ID. Fences
// are always created inactive; Monitoring on the input is ignored.
func (r *FenceRegistry) Create(f model.Fence) (string, error) {
	if err := validateFence(f); err != nil {
		return "", err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Monitoring = false
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if _, exists := r.fences[f.ID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: fence %q already exists", ErrInvalidFence, f.ID)
	}
	stored := f
	r.fences[f.ID] = &stored
	r.mu.Unlock()

	r.notify(FenceEvent{Type: FenceCreated, Fence: f})
	return f.ID, nil
}

// Activate marks a fence as actively monitored. Activating an
// already-active fence is a no-op. When the capacity is full and the
// target is not already active, the registry is left unchanged and
// ErrCapacityExceeded is returned.
func (r *FenceRegistry) Activate(id string) error {
	r.mu.Lock()
	f, ok := r.fences[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrFenceNotFound, id)
	}
	if f.Monitoring {
		r.mu.Unlock()
		return nil
	}
	if r.activeCountLocked() >= r.maxActive {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d fences already active", ErrCapacityExceeded, r.maxActive)
	}
	f.Monitoring = true
	ev := FenceEvent{Type: FenceActivated, Fence: *f}
	r.mu.Unlock()

	r.notify(ev)
	return nil
}

// Deactivate stops monitoring a fence. Deactivating an inactive fence
// is a no-op. Subscribers observe the change before Deactivate
// returns, so containment teardown (without exit events) can be
// driven from the notification.
func (r *FenceRegistry) Deactivate(id string) error {
	r.mu.Lock()
	f, ok := r.fences[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrFenceNotFound, id)
	}
	if !f.Monitoring {
		r.mu.Unlock()
		return nil
	}
	f.Monitoring = false
	ev := FenceEvent{Type: FenceDeactivated, Fence: *f}
	r.mu.Unlock()

	r.notify(ev)
	return nil
}

// Delete removes a fence definition, implicitly deactivating it first.
func (r *FenceRegistry) Delete(id string) error {
	r.mu.Lock()
	f, ok := r.fences[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrFenceNotFound, id)
	}
	wasActive := f.Monitoring
	f.Monitoring = false
	deactivated := FenceEvent{Type: FenceDeactivated, Fence: *f}
	delete(r.fences, id)
	deleted := FenceEvent{Type: FenceDeleted, Fence: *f}
	r.mu.Unlock()

	if wasActive {
		r.notify(deactivated)
	}
	r.notify(deleted)
	return nil
}

// Get returns a copy of the fence with the given ID.
func (r *FenceRegistry) Get(id string) (model.Fence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fences[id]
	if !ok {
		return model.Fence{}, false
	}
	return *f, true
}

// List returns a snapshot of fences matching the filter. The returned
// values are copies; no partial update is ever visible mid-call.
func (r *FenceRegistry) List(filter ListFilter) []model.Fence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Fence, 0, len(r.fences))
	for _, f := range r.fences {
		if filter == ListActive && !f.Monitoring {
			continue
		}
		res = append(res, *f)
	}
	return res
}

// IsActive reports whether the fence exists and is actively monitored.
func (r *FenceRegistry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fences[id]
	return ok && f.Monitoring
}

// ActiveCount returns the current size of the active set.
func (r *FenceRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCountLocked()
}

// Subscribe registers a callback for fence events. It returns an
// unsubscribe function. Callbacks run outside the registry lock.
func (r *FenceRegistry) Subscribe(fn func(FenceEvent)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
	idx := len(r.subs) - 1

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < 0 || idx >= len(r.subs) {
			return
		}
		r.subs = append(r.subs[:idx], r.subs[idx+1:]...)
		idx = -1
	}
}

func (r *FenceRegistry) activeCountLocked() int {
	n := 0
	for _, f := range r.fences {
		if f.Monitoring {
			n++
		}
	}
	return n
}

func (r *FenceRegistry) notify(ev FenceEvent) {
	r.mu.RLock()
	subs := append([]func(FenceEvent){}, r.subs...)
	r.mu.RUnlock()
	for _, sub := range subs {
		sub(ev)
	}
}

func validateFence(f model.Fence) error {
	if f.RadiusM <= 0 {
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidFence, f.RadiusM)
	}
	if f.Center.Lat < -90 || f.Center.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidFence, f.Center.Lat)
	}
	if f.Center.Lon < -180 || f.Center.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidFence, f.Center.Lon)
	}
	return nil
}
