package model

import "time"

// LatLon is a WGS84 coordinate in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fence is a named circular area under (optional) active monitoring.
type Fence struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Center     LatLon    `json:"center"`
	RadiusM    float64   `json:"radius_m"`
	Monitoring bool      `json:"monitoring"`
	CreatedAt  time.Time `json:"created_at"`
}

// FenceStatistics is a derived view over containment state and the
// event history for a single fence. AverageDwell covers completed
// entry/exit pairs only; peers still inside contribute to
// CurrentlyInside but not to the average.
type FenceStatistics struct {
	FenceID         string        `json:"fence_id"`
	EntryCount      uint64        `json:"entry_count"`
	ExitCount       uint64        `json:"exit_count"`
	CurrentlyInside int           `json:"currently_inside"`
	AverageDwell    time.Duration `json:"average_dwell_ns"`
}
