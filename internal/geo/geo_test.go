package geo

import (
	"math"
	"testing"
)

func TestDistanceKm(t *testing.T) {
	ny, _ := LookupCity("New York, USA")
	la, _ := LookupCity("Los Angeles, USA")

	// Great-circle distance New York to Los Angeles is roughly 3936 km.
	d := DistanceKm(ny, la)
	if math.Abs(d-3936) > 50 {
		t.Errorf("DistanceKm(NY, LA) = %.0f, want ~3936", d)
	}

	// Symmetric
	if back := DistanceKm(la, ny); math.Abs(back-d) > 0.001 {
		t.Errorf("distance not symmetric: %.3f vs %.3f", d, back)
	}

	// Zero distance for identical points
	if z := DistanceKm(ny, ny); z != 0 {
		t.Errorf("DistanceKm(p, p) = %f, want 0", z)
	}
}

func TestLookupCity(t *testing.T) {
	if _, ok := LookupCity("San Francisco, USA"); !ok {
		t.Error("expected San Francisco in city table")
	}
	if _, ok := LookupCity("Atlantis"); ok {
		t.Error("unexpected hit for unknown city")
	}
}
