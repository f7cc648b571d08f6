package scoring_test

import (
	"math"
	"testing"

	"tower/internal/scoring"
)

func TestReduceMax(t *testing.T) {
	comparisons := []scoring.Comparison{
		{ReferenceID: 1, Similarity: 0.62, Weight: 0.9},
		{ReferenceID: 2, Similarity: 0.91, Weight: 0.4},
		{ReferenceID: 3, Similarity: 0.78, Weight: 0.7},
	}
	got, err := scoring.Reduce(scoring.StrategyMax, comparisons)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if got != 0.91 {
		t.Fatalf("expected max 0.91, got %g", got)
	}
}

func TestReduceWeightedMean(t *testing.T) {
	comparisons := []scoring.Comparison{
		{ReferenceID: 1, Similarity: 1.0, Weight: 3},
		{ReferenceID: 2, Similarity: 0.5, Weight: 1},
	}
	got, err := scoring.Reduce(scoring.StrategyWeightedMean, comparisons)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	want := (1.0*3 + 0.5*1) / 4
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %g, got %g", want, got)
	}
}

func TestReduceWeightedMeanZeroWeights(t *testing.T) {
	comparisons := []scoring.Comparison{
		{ReferenceID: 1, Similarity: 0.4, Weight: 0},
		{ReferenceID: 2, Similarity: 0.8, Weight: 0},
	}
	got, err := scoring.Reduce(scoring.StrategyWeightedMean, comparisons)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if math.Abs(got-0.6) > 1e-12 {
		t.Fatalf("expected plain mean 0.6 when weights vanish, got %g", got)
	}
}

func TestReduceRejectsBadInput(t *testing.T) {
	if _, err := scoring.Reduce(scoring.StrategyMax, nil); err == nil {
		t.Fatal("expected error for empty comparisons")
	}
	if _, err := scoring.Reduce("median", []scoring.Comparison{{Similarity: 0.5}}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	bad := []scoring.Comparison{{ReferenceID: 1, Similarity: 0.5, Weight: -1}}
	if _, err := scoring.Reduce(scoring.StrategyWeightedMean, bad); err == nil {
		t.Fatal("expected error for negative weight")
	}
}

func TestValidStrategy(t *testing.T) {
	if !scoring.ValidStrategy(scoring.StrategyMax) || !scoring.ValidStrategy(scoring.StrategyWeightedMean) {
		t.Fatal("expected built-in strategies to validate")
	}
	if scoring.ValidStrategy("median") {
		t.Fatal("expected unknown strategy to be rejected")
	}
}
