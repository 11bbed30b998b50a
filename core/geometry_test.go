package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/perimeter-tracker/model"
)

func TestHaversineM_ZeroDistance(t *testing.T) {
	p := model.LatLon{Lat: 19.4, Lon: -99.1}
	if d := HaversineM(p, p); d != 0 {
		t.Errorf("expected zero distance for identical points, got %v", d)
	}
}

func TestHaversineM_KnownDistance(t *testing.T) {
	// One degree of latitude is ~111.19 km on the sphere.
	a := model.LatLon{Lat: 0, Lon: 0}
	b := model.LatLon{Lat: 1, Lon: 0}
	d := HaversineM(a, b)
	if math.Abs(d-111195) > 100 {
		t.Errorf("one degree of latitude: got %v m, want ~111195 m", d)
	}
}

func TestHaversineM_ShortRange(t *testing.T) {
	// ~100 m north of the reference point.
	a := model.LatLon{Lat: 19.4, Lon: -99.1}
	b := model.LatLon{Lat: 19.4 + 100.0/EarthRadiusM*180.0/math.Pi, Lon: -99.1}
	d := HaversineM(a, b)
	if math.Abs(d-100) > 0.5 {
		t.Errorf("short-range distance: got %v m, want ~100 m", d)
	}
}

func TestLocalOffsetM_NorthIsY(t *testing.T) {
	obs := model.LatLon{Lat: 19.4, Lon: -99.1}
	target := model.LatLon{Lat: 19.4 + 50.0/EarthRadiusM*180.0/math.Pi, Lon: -99.1}

	x, y := LocalOffsetM(obs, target)
	if math.Abs(x) > 0.01 {
		t.Errorf("pure-north target should have no east offset, got x=%v", x)
	}
	if math.Abs(y-50) > 0.5 {
		t.Errorf("north offset: got %v, want ~50", y)
	}
}

func TestLocalOffsetM_RoundTripsAgainstHaversine(t *testing.T) {
	obs := model.LatLon{Lat: 19.4, Lon: -99.1}
	target := model.LatLon{Lat: 19.4012, Lon: -99.0987}

	x, y := LocalOffsetM(obs, target)
	planar := math.Hypot(x, y)
	sphere := HaversineM(obs, target)
	if math.Abs(planar-sphere) > 1 {
		t.Errorf("planar %v m and great-circle %v m disagree beyond 1 m at fence scale", planar, sphere)
	}
}
