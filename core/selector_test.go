package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

var testObserver = model.LatLon{Lat: 19.4, Lon: -99.1}

func sampleAt(peer string, sigs ...model.Signal) model.Sample {
	return model.Sample{PeerID: peer, Signals: sigs, ObservedAt: time.Now()}
}

func TestSourceSelector_PreciseBeatsSatellite(t *testing.T) {
	s := NewSourceSelector(testObserver)

	pos := s.Select(sampleAt("p1",
		model.Signal{Source: model.SourceSatellite, Lat: 19.5, Lon: -99.2},
		model.Signal{Source: model.SourcePrecise, Lat: 19.4001, Lon: -99.1001},
	))

	if pos.Source != model.SourcePrecise {
		t.Fatalf("selected source = %s, want precise", pos.Source)
	}
	if pos.Coord.Kind != model.CoordinateExact {
		t.Errorf("coordinate kind = %s, want exact", pos.Coord.Kind)
	}
}

func TestSourceSelector_PriorityOrder(t *testing.T) {
	s := NewSourceSelector(testObserver)

	cases := []struct {
		name    string
		signals []model.Signal
		want    model.SourceType
	}{
		{
			name: "ranged beats satellite",
			signals: []model.Signal{
				{Source: model.SourceSatellite, Lat: 19.5, Lon: -99.2},
				{Source: model.SourceRanged, DistanceM: 42},
			},
			want: model.SourceRanged,
		},
		{
			name: "precise beats everything",
			signals: []model.Signal{
				{Source: model.SourceRanged, DistanceM: 42},
				{Source: model.SourceSatellite, Lat: 19.5, Lon: -99.2},
				{Source: model.SourcePrecise, Lat: 19.41, Lon: -99.11},
			},
			want: model.SourcePrecise,
		},
		{
			name:    "satellite alone",
			signals: []model.Signal{{Source: model.SourceSatellite, Lat: 19.5, Lon: -99.2}},
			want:    model.SourceSatellite,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := s.Select(sampleAt("p1", tc.signals...))
			if pos.Source != tc.want {
				t.Errorf("selected %s, want %s", pos.Source, tc.want)
			}
		})
	}
}

func TestSourceSelector_EmptySignalsIsNotAnError(t *testing.T) {
	s := NewSourceSelector(testObserver)

	pos := s.Select(sampleAt("quiet-peer"))
	if pos.Source != model.SourceNone {
		t.Errorf("source = %s, want none", pos.Source)
	}
	if pos.Coord.Kind != model.CoordinateUnknown {
		t.Errorf("coordinate kind = %s, want unknown", pos.Coord.Kind)
	}
	if pos.DistanceM != nil {
		t.Errorf("distance must be nil for source none, got %v", *pos.DistanceM)
	}
	if pos.Geo != nil {
		t.Error("no absolute fix expected for source none")
	}
}

func TestSourceSelector_RingCarriesNoBearing(t *testing.T) {
	s := NewSourceSelector(testObserver)

	pos := s.Select(sampleAt("p1", model.Signal{Source: model.SourceRanged, DistanceM: 73}))
	if pos.Coord.Kind != model.CoordinateRing {
		t.Fatalf("coordinate kind = %s, want ring", pos.Coord.Kind)
	}
	if _, ok := pos.Coord.Bearing(); ok {
		t.Error("ring coordinates must not expose a bearing")
	}
	if pos.DistanceM == nil || *pos.DistanceM != 73 {
		t.Errorf("distance = %v, want 73", pos.DistanceM)
	}
	if pos.Geo != nil {
		t.Error("ring positions have no absolute fix")
	}
}

func TestSourceSelector_ProjectsIntoRadarFrame(t *testing.T) {
	s := NewSourceSelector(testObserver)

	// 100 m due north of the observer.
	lat := testObserver.Lat + 100.0/EarthRadiusM*180.0/math.Pi
	pos := s.Select(sampleAt("p1", model.Signal{Source: model.SourcePrecise, Lat: lat, Lon: testObserver.Lon}))

	if math.Abs(pos.Coord.X) > 0.1 || math.Abs(pos.Coord.Y-100) > 1 {
		t.Errorf("offset = (%v, %v), want (~0, ~100)", pos.Coord.X, pos.Coord.Y)
	}
	bearing, ok := pos.Coord.Bearing()
	if !ok {
		t.Fatal("exact coordinate should have a bearing")
	}
	if math.Abs(bearing) > 1 && math.Abs(bearing-360) > 1 {
		t.Errorf("bearing = %v, want ~0 (north)", bearing)
	}
	if pos.DistanceM == nil || math.Abs(*pos.DistanceM-100) > 1 {
		t.Errorf("distance = %v, want ~100", pos.DistanceM)
	}
}
