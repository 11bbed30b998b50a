package core

import (
	"math"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

// SourceSelector fuses the competing raw signals in a sample into a
// single ranked PeerPosition. The policy is a fixed priority order:
// precise > ranged > satellite > none; the highest-priority signal
// present wins and the rest are discarded for the cycle.
//
// Signals that carry absolute coordinates are projected into a local
// radar frame (east/north offsets from the observing device).
// Distance-only signals keep just the scalar distance; the resulting
// ring coordinate never has a bearing.
type SourceSelector struct {
	observer model.LatLon
}

// NewSourceSelector constructs a selector anchored at the observing
// device's position.
func NewSourceSelector(observer model.LatLon) *SourceSelector {
	return &SourceSelector{observer: observer}
}

// Observer returns the radar-frame origin.
func (s *SourceSelector) Observer() model.LatLon { return s.observer }

// Select ranks the sample's signals and returns the fused position.
// An empty (or all-none) signal set yields source none with an unknown
// coordinate and nil distance; that is a normal state for a
// transiently-disconnected peer, never an error.
func (s *SourceSelector) Select(sample model.Sample) model.PeerPosition {
	pos := model.PeerPosition{
		PeerID:     sample.PeerID,
		Source:     model.SourceNone,
		Coord:      model.UnknownCoordinate(),
		ObservedAt: sample.ObservedAt,
	}

	var best *model.Signal
	for i := range sample.Signals {
		sig := &sample.Signals[i]
		if sig.Source == model.SourceNone {
			continue
		}
		if best == nil || sig.Source.Priority() > best.Source.Priority() {
			best = sig
		}
	}
	if best == nil {
		return pos
	}

	pos.Source = best.Source
	switch best.Source {
	case model.SourcePrecise:
		geo := model.LatLon{Lat: best.Lat, Lon: best.Lon}
		x, y := LocalOffsetM(s.observer, geo)
		pos.Coord = model.ExactCoordinate(x, y)
		pos.Geo = &geo
		pos.DistanceM = ptr(math.Hypot(x, y))
	case model.SourceRanged:
		pos.Coord = model.RingCoordinate(best.DistanceM)
		pos.DistanceM = ptr(best.DistanceM)
	case model.SourceSatellite:
		geo := model.LatLon{Lat: best.Lat, Lon: best.Lon}
		x, y := LocalOffsetM(s.observer, geo)
		pos.Coord = model.SatelliteCoordinate(x, y)
		pos.Geo = &geo
		pos.DistanceM = ptr(math.Hypot(x, y))
	}
	return pos
}

func ptr(v float64) *float64 { return &v }
