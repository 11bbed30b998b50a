package model

import (
	"math"
	"time"
)

// SourceType identifies which kind of positioning signal produced a fix.
type SourceType string

const (
	// SourcePrecise is short-range ranging with full position (bearing + distance).
	SourcePrecise SourceType = "precise"
	// SourceRanged is short-range ranging with a scalar distance only.
	SourceRanged SourceType = "ranged"
	// SourceSatellite is a satellite (GNSS) fix.
	SourceSatellite SourceType = "satellite"
	// SourceNone means no usable signal this cycle. Not an error state.
	SourceNone SourceType = "none"
)

// Priority ranks competing sources; higher wins. The order is
// precise > ranged > satellite > none.
func (s SourceType) Priority() int {
	switch s {
	case SourcePrecise:
		return 3
	case SourceRanged:
		return 2
	case SourceSatellite:
		return 1
	default:
		return 0
	}
}

// CoordinateKind tags the Coordinate variant.
type CoordinateKind string

const (
	// CoordinateExact carries a full radar-frame offset from the observer.
	CoordinateExact CoordinateKind = "exact"
	// CoordinateRing carries a distance from the observer with no bearing.
	CoordinateRing CoordinateKind = "ring"
	// CoordinateSatellite carries a radar-frame offset derived from a GNSS fix.
	CoordinateSatellite CoordinateKind = "satellite"
	// CoordinateUnknown means no position is known.
	CoordinateUnknown CoordinateKind = "unknown"
)

// Coordinate is a tagged union over the position variants. X and Y are
// offsets from the observing device in metres (east, north); they are
// meaningful only for the exact and satellite kinds. DistanceM is
// meaningful for ring and is the only information a ring carries:
// a ring never has a bearing.
type Coordinate struct {
	Kind      CoordinateKind `json:"kind"`
	X         float64        `json:"x,omitempty"`
	Y         float64        `json:"y,omitempty"`
	DistanceM float64        `json:"distance_m,omitempty"`
}

// ExactCoordinate builds an exact radar-frame coordinate.
func ExactCoordinate(x, y float64) Coordinate {
	return Coordinate{Kind: CoordinateExact, X: x, Y: y}
}

// RingCoordinate builds a distance-only coordinate.
func RingCoordinate(distanceM float64) Coordinate {
	return Coordinate{Kind: CoordinateRing, DistanceM: distanceM}
}

// SatelliteCoordinate builds a radar-frame coordinate from a GNSS fix.
func SatelliteCoordinate(x, y float64) Coordinate {
	return Coordinate{Kind: CoordinateSatellite, X: x, Y: y}
}

// UnknownCoordinate is the no-position variant.
func UnknownCoordinate() Coordinate {
	return Coordinate{Kind: CoordinateUnknown}
}

// Bearing returns the bearing from the observer in degrees clockwise
// from north, and whether a bearing is available for this variant.
// Ring and unknown coordinates never have one.
func (c Coordinate) Bearing() (float64, bool) {
	switch c.Kind {
	case CoordinateExact, CoordinateSatellite:
		return bearingFromOffset(c.X, c.Y), true
	case CoordinateRing, CoordinateUnknown:
		return 0, false
	default:
		return 0, false
	}
}

// bearingFromOffset converts an east/north offset to a compass bearing.
func bearingFromOffset(x, y float64) float64 {
	deg := math.Atan2(x, y) * 180.0 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

// PeerPosition is the selector's fused, ranked position for one peer.
// Geo is the absolute fix when the chosen source carried one (exact or
// satellite); it is nil for ring and unknown variants.
type PeerPosition struct {
	PeerID     string     `json:"peer_id"`
	Source     SourceType `json:"source"`
	Coord      Coordinate `json:"coordinate"`
	Geo        *LatLon    `json:"geo,omitempty"`
	DistanceM  *float64   `json:"distance_m,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Signal is one raw positioning observation inside a Sample. Lat/Lon
// are set for precise and satellite signals; DistanceM for ranged.
type Signal struct {
	Source    SourceType `json:"source"`
	Lat       float64    `json:"lat,omitempty"`
	Lon       float64    `json:"lon,omitempty"`
	DistanceM float64    `json:"distance_m,omitempty"`
}

// Sample is one per-peer location report from the location subsystem.
// It may carry any subset of signal types at once, including none.
type Sample struct {
	PeerID     string    `json:"peer_id"`
	Signals    []Signal  `json:"signals"`
	ObservedAt time.Time `json:"observed_at"`
}
