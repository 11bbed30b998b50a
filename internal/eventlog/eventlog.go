// Package eventlog keeps the append-only history of transition events
// and the per-fence statistics derived from it.
//
// The log serves two consumers with different needs: the "recent
// events" display wants a bounded, most-recent-first window, while
// statistics must stay exact over the full history. Counters and
// dwell samples are therefore maintained incrementally at append time
// and survive truncation of the display window.
package eventlog

import (
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

// DefaultRecentWindow bounds the "recent events" view when no size is
// configured.
const DefaultRecentWindow = 100

type pairKey struct {
	fenceID string
	peerID  string
}

type fenceCounters struct {
	entries uint64
	exits   uint64
	// dwellSeconds holds one sample per completed entry/exit pair.
	dwellSeconds []float64
}

// Log is safe for concurrent appenders. Appends are totally ordered
// by a monotonic sequence number; batches are ordered by timestamp
// with peer ID as the tie-break so replays are deterministic.
type Log struct {
	mu        sync.Mutex
	seq       uint64
	recent    []model.TransitionEvent
	recentCap int
	counters  map[string]*fenceCounters
	open      map[pairKey]time.Time
}

// New constructs a log whose recent-events window holds at most
// recentCap entries. Values below 1 fall back to DefaultRecentWindow.
func New(recentCap int) *Log {
	if recentCap < 1 {
		recentCap = DefaultRecentWindow
	}
	return &Log{
		recentCap: recentCap,
		counters:  make(map[string]*fenceCounters),
		open:      make(map[pairKey]time.Time),
	}
}

// Append records a batch of events from one applied sample, assigning
// sequence numbers and ULIDs. It returns the stored events. Events in
// the batch are ordered by (timestamp, peer, fence) before sequencing.
func (l *Log) Append(events ...model.TransitionEvent) []model.TransitionEvent {
	if len(events) == 0 {
		return nil
	}
	batch := make([]model.TransitionEvent, len(events))
	copy(batch, events)
	sort.SliceStable(batch, func(i, j int) bool {
		a, b := batch[i], batch[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.PeerID != b.PeerID {
			return a.PeerID < b.PeerID
		}
		return a.FenceID < b.FenceID
	})

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range batch {
		ev := &batch[i]
		l.seq++
		ev.Seq = l.seq
		if ev.ID == "" {
			ev.ID = ulid.MustNew(ulid.Timestamp(ev.Timestamp), rand.Reader).String()
		}
		l.applyLocked(*ev)
		l.recent = append(l.recent, *ev)
	}
	if over := len(l.recent) - l.recentCap; over > 0 {
		// Counters already account for the truncated events.
		l.recent = append(l.recent[:0:0], l.recent[over:]...)
	}
	return batch
}

// Recent returns up to limit events, most recent first. Events older
// than the display window are not returned even though they still
// count toward statistics.
func (l *Log) Recent(limit int) []model.TransitionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.recent) {
		limit = len(l.recent)
	}
	res := make([]model.TransitionEvent, 0, limit)
	for i := len(l.recent) - 1; i >= len(l.recent)-limit; i-- {
		res = append(res, l.recent[i])
	}
	return res
}

// Len reports how many events have ever been appended.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Statistics returns the exact counters for a fence. currentlyInside
// is supplied by the caller from live containment state; the log only
// derives it for peers whose entry it has seen without a later exit,
// which the tracker knows more authoritatively.
func (l *Log) Statistics(fenceID string, currentlyInside int) model.FenceStatistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := model.FenceStatistics{FenceID: fenceID, CurrentlyInside: currentlyInside}
	c, ok := l.counters[fenceID]
	if !ok {
		return s
	}
	s.EntryCount = c.entries
	s.ExitCount = c.exits
	if len(c.dwellSeconds) > 0 {
		s.AverageDwell = time.Duration(stat.Mean(c.dwellSeconds, nil) * float64(time.Second))
	}
	return s
}

func (l *Log) applyLocked(ev model.TransitionEvent) {
	c, ok := l.counters[ev.FenceID]
	if !ok {
		c = &fenceCounters{}
		l.counters[ev.FenceID] = c
	}
	key := pairKey{fenceID: ev.FenceID, peerID: ev.PeerID}

	switch ev.Type {
	case model.EventEntry:
		c.entries++
		if _, open := l.open[key]; !open {
			l.open[key] = ev.Timestamp
		}
	case model.EventExit:
		c.exits++
		if enteredAt, open := l.open[key]; open {
			delete(l.open, key)
			if d := ev.Timestamp.Sub(enteredAt); d >= 0 {
				c.dwellSeconds = append(c.dwellSeconds, d.Seconds())
			}
		}
	}
}
