package severity

import (
	"math"
	"testing"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	tokyo := Location{Latitude: 35.681, Longitude: 139.767}
	if got := Distance(tokyo, tokyo); got != 0 {
		t.Fatalf("Distance(a, a) = %v, want 0", got)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	points := []Location{
		{Latitude: 35.681, Longitude: 139.767},
		{Latitude: 34.702, Longitude: 135.495},
		{Latitude: 43.068, Longitude: 141.350},
		{Latitude: -33.868, Longitude: 151.209},
	}

	for _, a := range points {
		for _, b := range points {
			if ab, ba := Distance(a, b), Distance(b, a); math.Abs(ab-ba) > 1e-9 {
				t.Fatalf("Distance(%v, %v) = %v, reverse = %v", a, b, ab, ba)
			}
		}
	}
}

func TestDistanceTokyoOsaka(t *testing.T) {
	got := Distance(Location{Latitude: 35.681, Longitude: 139.767}, Location{Latitude: 34.702, Longitude: 135.495})
	if got < 395 || got > 410 {
		t.Fatalf("Distance(Tokyo, Osaka) = %.1f km, want about 403 km", got)
	}
}

func TestDistanceOneDegreeOfLatitude(t *testing.T) {
	got := Distance(Location{Latitude: 0, Longitude: 0}, Location{Latitude: 1, Longitude: 0})
	want := EarthRadiusKm * math.Pi / 180
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("Distance = %v, want %v", got, want)
	}
}
