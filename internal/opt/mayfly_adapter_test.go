package opt

import (
	"math"
	"testing"
)

// offsetModel returns p - c, minimized at p = c.
func offsetModel(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = v - 2
	}
	return out
}

func TestMayflySearchFindsBasin(t *testing.T) {
	search := NewMayfly(100, 20, 42) // maxIters, popSize, seed

	lower := []float64{-10, -10, -10}
	upper := []float64{10, 10, 10}
	target := []float64{0, 0, 0}

	best, cost, err := search.Search(offsetModel, target, lower, upper)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(best) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(best))
	}
	if cost > 0.5 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}
	for i, v := range best {
		if math.Abs(v-2) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 2", i, v)
		}
		if v < lower[i] || v > upper[i] {
			t.Errorf("Parameter %d = %f outside bounds", i, v)
		}
	}
}

func TestMayflySearchDeterministic(t *testing.T) {
	lower := []float64{-5, 0}
	upper := []float64{5, 100}
	target := []float64{0, 0}

	// popSize must be >=20 for mayfly v0.1.0
	_, cost1, err := NewMayfly(50, 20, 123).Search(offsetModel, target, lower, upper)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	_, cost2, err := NewMayfly(50, 20, 123).Search(offsetModel, target, lower, upper)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestMayflySearchRejectsBadBounds(t *testing.T) {
	_, _, err := NewMayfly(10, 20, 1).Search(offsetModel, []float64{0}, []float64{1}, []float64{1})
	if err == nil {
		t.Fatal("Expected error for empty interval")
	}
}
