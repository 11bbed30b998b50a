package core

import (
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

// ErrStaleSample indicates a sample was older than the last one
// applied for its peer. Stale samples are dropped, never merged;
// callers should treat this as observability-only, not a failure.
var ErrStaleSample = errors.New("stale sample")

// ActiveChecker reports whether a fence is still under active
// monitoring. The tracker consults it immediately before emitting a
// transition so that a deactivation observed mid-update suppresses
// the event.
type ActiveChecker interface {
	IsActive(fenceID string) bool
}

// TrackerMetrics receives observability-only counts from the tracker.
type TrackerMetrics interface {
	RecordTransition(ev model.EventType)
	RecordStaleSample()
	RecordMissingLocation()
}

// containment is the per (fence, peer) state machine. Absence of an
// entry means outside.
type containment struct {
	inside        bool
	lastChangedAt time.Time
}

// peerState serializes updates for one peer. Samples for distinct
// peers proceed in parallel; samples for the same peer apply in
// observation order, enforced by the lastApplied watermark.
type peerState struct {
	mu          sync.Mutex
	lastApplied time.Time
	lastPos     model.PeerPosition
	fences      map[string]*containment
}

// ContainmentTracker owns all ContainmentState entries, keyed by
// (fenceID, peerID). It detects entry/exit transitions exactly once
// per crossing and tolerates out-of-order and duplicate samples.
type ContainmentTracker struct {
	mu      sync.RWMutex
	peers   map[string]*peerState
	active  ActiveChecker
	metrics TrackerMetrics
}

// NewContainmentTracker constructs an empty tracker. active is
// consulted before any transition is emitted; metrics may be nil.
func NewContainmentTracker(active ActiveChecker, metrics TrackerMetrics) *ContainmentTracker {
	if metrics == nil {
		metrics = noopTrackerMetrics{}
	}
	return &ContainmentTracker{
		peers:   make(map[string]*peerState),
		active:  active,
		metrics: metrics,
	}
}

// Apply evaluates one fused position against every supplied fence and
// returns the transitions it caused, in fence order. It returns
// ErrStaleSample when the position is older than the peer's last
// applied sample; replaying an already-applied sample is stale by the
// same rule and produces no events.
//
// Positions with source none advance the peer's watermark and last
// position but are skipped for containment entirely: no transition
// can fire from a missing fix.
func (t *ContainmentTracker) Apply(pos model.PeerPosition, fences []model.Fence) ([]model.TransitionEvent, error) {
	ps := t.peerState(pos.PeerID)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.lastApplied.IsZero() && !pos.ObservedAt.After(ps.lastApplied) {
		t.metrics.RecordStaleSample()
		return nil, ErrStaleSample
	}
	ps.lastApplied = pos.ObservedAt
	ps.lastPos = pos

	if pos.Source == model.SourceNone {
		t.metrics.RecordMissingLocation()
		return nil, nil
	}

	var events []model.TransitionEvent
	for _, f := range fences {
		inside, ok := contains(f, pos)
		if !ok {
			continue
		}

		state, seen := ps.fences[f.ID]
		if !seen {
			state = &containment{}
			ps.fences[f.ID] = state
		}
		if state.inside == inside {
			continue
		}

		// Re-check under the peer lock: a deactivation observed here
		// must suppress the transition even for an in-flight sample.
		if t.active != nil && !t.active.IsActive(f.ID) {
			continue
		}

		state.inside = inside
		state.lastChangedAt = pos.ObservedAt
		kind := model.EventExit
		if inside {
			kind = model.EventEntry
		}
		t.metrics.RecordTransition(kind)
		events = append(events, model.TransitionEvent{
			FenceID:   f.ID,
			PeerID:    pos.PeerID,
			Type:      kind,
			Timestamp: pos.ObservedAt,
		})
	}
	return events, nil
}

// RemoveFence tears down all containment state for a fence without
// emitting exit events: an explicit stop is not a geographic exit.
func (t *ContainmentTracker) RemoveFence(fenceID string) {
	t.mu.RLock()
	peers := make([]*peerState, 0, len(t.peers))
	for _, ps := range t.peers {
		peers = append(peers, ps)
	}
	t.mu.RUnlock()

	for _, ps := range peers {
		ps.mu.Lock()
		delete(ps.fences, fenceID)
		ps.mu.Unlock()
	}
}

// RemovePeer drops all state for a peer (roster departure).
func (t *ContainmentTracker) RemovePeer(peerID string) {
	t.mu.Lock()
	delete(t.peers, peerID)
	t.mu.Unlock()
}

// InsideCount returns how many peers are currently inside the fence.
func (t *ContainmentTracker) InsideCount(fenceID string) int {
	t.mu.RLock()
	peers := make([]*peerState, 0, len(t.peers))
	for _, ps := range t.peers {
		peers = append(peers, ps)
	}
	t.mu.RUnlock()

	n := 0
	for _, ps := range peers {
		ps.mu.Lock()
		if st, ok := ps.fences[fenceID]; ok && st.inside {
			n++
		}
		ps.mu.Unlock()
	}
	return n
}

// Inside reports the containment verdict for one (fence, peer) pair.
// Unseen pairs are outside.
func (t *ContainmentTracker) Inside(fenceID, peerID string) bool {
	t.mu.RLock()
	ps, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	st, ok := ps.fences[fenceID]
	return ok && st.inside
}

// Positions returns the last fused position per peer.
func (t *ContainmentTracker) Positions() map[string]model.PeerPosition {
	t.mu.RLock()
	peers := make(map[string]*peerState, len(t.peers))
	for id, ps := range t.peers {
		peers[id] = ps
	}
	t.mu.RUnlock()

	res := make(map[string]model.PeerPosition, len(peers))
	for id, ps := range peers {
		ps.mu.Lock()
		if !ps.lastApplied.IsZero() {
			res[id] = ps.lastPos
		}
		ps.mu.Unlock()
	}
	return res
}

func (t *ContainmentTracker) peerState(peerID string) *peerState {
	t.mu.RLock()
	ps, ok := t.peers[peerID]
	t.mu.RUnlock()
	if ok {
		return ps
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ps, ok = t.peers[peerID]; ok {
		return ps
	}
	ps = &peerState{fences: make(map[string]*containment)}
	t.peers[peerID] = ps
	return ps
}

// contains evaluates the containment test for one fence against one
// position. The second return value reports whether the variant is
// evaluatable at all.
//
// Ring positions carry a distance from the observing device and no
// bearing; they are tested directly against the fence radius, which
// treats the observer as the fence anchor. Absolute fixes use
// great-circle distance to the fence centre.
func contains(f model.Fence, pos model.PeerPosition) (inside, ok bool) {
	switch pos.Coord.Kind {
	case model.CoordinateExact, model.CoordinateSatellite:
		if pos.Geo == nil {
			return false, false
		}
		return HaversineM(*pos.Geo, f.Center) <= f.RadiusM, true
	case model.CoordinateRing:
		return pos.Coord.DistanceM <= f.RadiusM, true
	case model.CoordinateUnknown:
		return false, false
	default:
		return false, false
	}
}

type noopTrackerMetrics struct{}

func (noopTrackerMetrics) RecordTransition(model.EventType) {}
func (noopTrackerMetrics) RecordStaleSample()               {}
func (noopTrackerMetrics) RecordMissingLocation()           {}
