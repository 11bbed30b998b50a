package eventlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

func ev(fence, peer string, kind model.EventType, at time.Time) model.TransitionEvent {
	return model.TransitionEvent{FenceID: fence, PeerID: peer, Type: kind, Timestamp: at}
}

func TestAppendAssignsSequenceAndIDs(t *testing.T) {
	l := New(10)
	base := time.Now()

	stored := l.Append(
		ev("f1", "p1", model.EventEntry, base),
		ev("f1", "p2", model.EventEntry, base.Add(time.Second)),
	)
	require.Len(t, stored, 2)
	assert.Equal(t, uint64(1), stored[0].Seq)
	assert.Equal(t, uint64(2), stored[1].Seq)
	assert.NotEmpty(t, stored[0].ID)
	assert.NotEmpty(t, stored[1].ID)
	assert.NotEqual(t, stored[0].ID, stored[1].ID)
	assert.Equal(t, uint64(2), l.Len())
}

func TestAppendOrdersBatchDeterministically(t *testing.T) {
	l := New(10)
	base := time.Now()

	// Same timestamp: peer ID breaks the tie, then fence ID.
	stored := l.Append(
		ev("f2", "pB", model.EventEntry, base.Add(time.Second)),
		ev("f1", "pB", model.EventEntry, base),
		ev("f2", "pA", model.EventEntry, base),
		ev("f1", "pA", model.EventEntry, base),
	)
	require.Len(t, stored, 4)
	assert.Equal(t, "pA", stored[0].PeerID)
	assert.Equal(t, "f1", stored[0].FenceID)
	assert.Equal(t, "pA", stored[1].PeerID)
	assert.Equal(t, "f2", stored[1].FenceID)
	assert.Equal(t, "pB", stored[2].PeerID)
	assert.Equal(t, "f1", stored[2].FenceID)
	// Latest timestamp sorts last regardless of insertion order.
	assert.Equal(t, base.Add(time.Second), stored[3].Timestamp)

	for i := 1; i < len(stored); i++ {
		assert.Greater(t, stored[i].Seq, stored[i-1].Seq, "sequence must be strictly increasing")
	}
}

func TestRecentIsMostRecentFirstAndBounded(t *testing.T) {
	l := New(5)
	base := time.Now()

	for i := 0; i < 8; i++ {
		l.Append(ev("f1", fmt.Sprintf("p%d", i), model.EventEntry, base.Add(time.Duration(i)*time.Second)))
	}

	recent := l.Recent(0)
	require.Len(t, recent, 5, "window holds at most 5")
	assert.Equal(t, "p7", recent[0].PeerID, "newest first")
	assert.Equal(t, "p3", recent[4].PeerID, "oldest surviving entry")

	limited := l.Recent(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "p7", limited[0].PeerID)
	assert.Equal(t, "p6", limited[1].PeerID)
}

func TestStatisticsSurviveWindowTruncation(t *testing.T) {
	l := New(3)
	base := time.Now()

	// 10 entries push all but the last 3 out of the display window.
	for i := 0; i < 10; i++ {
		l.Append(ev("f1", fmt.Sprintf("p%d", i), model.EventEntry, base.Add(time.Duration(i)*time.Second)))
	}
	require.Len(t, l.Recent(0), 3)

	stats := l.Statistics("f1", 10)
	assert.Equal(t, uint64(10), stats.EntryCount, "counters are exact over the full history")
	assert.Equal(t, uint64(0), stats.ExitCount)
	assert.Equal(t, 10, stats.CurrentlyInside)
}

func TestStatisticsDwellAverage(t *testing.T) {
	l := New(50)
	base := time.Now()

	// p1 dwells 60s, p2 dwells 120s: average 90s.
	l.Append(ev("f1", "p1", model.EventEntry, base))
	l.Append(ev("f1", "p2", model.EventEntry, base.Add(10*time.Second)))
	l.Append(ev("f1", "p1", model.EventExit, base.Add(60*time.Second)))
	l.Append(ev("f1", "p2", model.EventExit, base.Add(130*time.Second)))

	stats := l.Statistics("f1", 0)
	assert.Equal(t, uint64(2), stats.EntryCount)
	assert.Equal(t, uint64(2), stats.ExitCount)
	assert.Equal(t, 90*time.Second, stats.AverageDwell)
}

func TestStatisticsOpenVisitHasNoDwellSample(t *testing.T) {
	l := New(50)
	base := time.Now()

	l.Append(ev("f1", "p1", model.EventEntry, base))
	stats := l.Statistics("f1", 1)
	assert.Equal(t, uint64(1), stats.EntryCount)
	assert.Zero(t, stats.AverageDwell, "dwell needs a completed entry/exit pair")
}

func TestStatisticsPerFenceIsolation(t *testing.T) {
	l := New(50)
	base := time.Now()

	l.Append(ev("f1", "p1", model.EventEntry, base))
	l.Append(ev("f2", "p1", model.EventEntry, base))
	l.Append(ev("f1", "p1", model.EventExit, base.Add(time.Minute)))

	f1 := l.Statistics("f1", 0)
	f2 := l.Statistics("f2", 1)
	assert.Equal(t, uint64(1), f1.ExitCount)
	assert.Equal(t, uint64(0), f2.ExitCount)
	assert.Equal(t, time.Minute, f1.AverageDwell)
	assert.Zero(t, f2.AverageDwell)
}

func TestStatisticsUnknownFence(t *testing.T) {
	l := New(50)
	stats := l.Statistics("missing", 0)
	assert.Equal(t, model.FenceStatistics{FenceID: "missing"}, stats)
}
