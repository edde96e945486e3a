package severity

import (
	"math"
	"testing"
)

func TestEstimateIntensityNearShallowM7(t *testing.T) {
	got := EstimateIntensity(7.0, 10, 0)
	if got < 5.7 || got > 5.9 {
		t.Fatalf("EstimateIntensity(7.0, 10, 0) = %.3f, want about 5.79", got)
	}
	if ShindoFromIntensity(got) != Shindo6Lower {
		t.Fatalf("shindo = %s, want 6-", ShindoFromIntensity(got))
	}
}

func TestEstimateIntensityDecreasesWithDistance(t *testing.T) {
	prev := math.Inf(1)
	for _, km := range []float64{10, 50, 100, 200, 400} {
		got := EstimateIntensity(6.5, 30, km)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("EstimateIntensity at %v km not finite: %v", km, got)
		}
		if got >= prev {
			t.Fatalf("intensity at %v km = %.3f, not below %.3f", km, got, prev)
		}
		prev = got
	}
}

func TestEstimateIntensityIncreasesWithMagnitude(t *testing.T) {
	small := EstimateIntensity(4.0, 20, 50)
	large := EstimateIntensity(6.0, 20, 50)
	if large <= small {
		t.Fatalf("M6 intensity %.3f not above M4 intensity %.3f", large, small)
	}
}
