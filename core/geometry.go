package core

import (
	"math"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

// EarthRadiusM is the mean Earth radius used for all simple geometry
// calculations in the containment layer (metres).
const EarthRadiusM = 6371000.0

// HaversineM returns the great-circle distance between two WGS84
// points in metres.
func HaversineM(a, b model.LatLon) float64 {
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180.0
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// LocalOffsetM projects target into a flat east/north frame centred on
// observer, in metres. The equirectangular approximation is accurate to
// well under a metre at fence scale (hundreds of metres).
func LocalOffsetM(observer, target model.LatLon) (x, y float64) {
	latRad := observer.Lat * math.Pi / 180.0
	x = (target.Lon - observer.Lon) * math.Pi / 180.0 * EarthRadiusM * math.Cos(latRad)
	y = (target.Lat - observer.Lat) * math.Pi / 180.0 * EarthRadiusM
	return x, y
}
