package scoring_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"tower/internal/jobs"
	"tower/internal/scoring"
	"tower/internal/testsupport"
)

func newScorer(t *testing.T, capacity int, strategy string) *scoring.Scorer {
	t.Helper()
	library := newLibrary(t, capacity)
	scorer, err := scoring.NewScorer(library, strategy)
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}
	return scorer
}

func TestNewScorerRejectsUnknownStrategy(t *testing.T) {
	library := newLibrary(t, 3)
	if _, err := scoring.NewScorer(library, "median"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if _, err := scoring.NewScorer(nil, scoring.StrategyMax); err == nil {
		t.Fatal("expected error for nil library")
	}
}

func TestScoreEmptySetReturnsErrNoReferences(t *testing.T) {
	scorer := newScorer(t, 3, scoring.StrategyMax)
	ctx := context.Background()

	_, err := scorer.Score(ctx, "kai", jobs.ModalityFace, testsupport.Embedding(16, 1))
	if !errors.Is(err, scoring.ErrNoReferences) {
		t.Fatalf("expected ErrNoReferences, got %v", err)
	}
}

func TestScoreAgainstOwnReferenceIsOne(t *testing.T) {
	scorer := newScorer(t, 3, scoring.StrategyMax)
	ctx := context.Background()

	embedding := testsupport.Embedding(16, 42)
	if err := scorer.Bootstrap(ctx, &jobs.CharacterReference{
		CharacterID: "kai",
		Modality:    jobs.ModalityFace,
		AssetRef:    "assets/seed.png",
		Quality:     0.8,
		Embedding:   embedding,
	}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	result, err := scorer.Score(ctx, "kai", jobs.ModalityFace, embedding)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if math.Abs(result.Value-1.0) > 1e-9 {
		t.Fatalf("expected score 1.0 against own reference, got %g", result.Value)
	}
	if result.ReferenceCount != 1 {
		t.Fatalf("expected reference count 1, got %d", result.ReferenceCount)
	}
	if result.Strategy != scoring.StrategyMax {
		t.Fatalf("expected strategy recorded, got %q", result.Strategy)
	}
}

func TestScoreMaxTakesBestReference(t *testing.T) {
	scorer := newScorer(t, 5, scoring.StrategyMax)
	ctx := context.Background()

	near := testsupport.Embedding(16, 7)
	far := testsupport.Embedding(16, 99)
	for i, emb := range [][]float64{near, far} {
		if _, err := scorer.Library().Admit(ctx, &jobs.CharacterReference{
			CharacterID: "kai",
			Modality:    jobs.ModalityFace,
			AssetRef:    "assets/ref.png",
			Quality:     0.5 + float64(i)*0.1,
			Embedding:   emb,
		}); err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
	}

	result, err := scorer.Score(ctx, "kai", jobs.ModalityFace, near)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if math.Abs(result.Raw-1.0) > 1e-9 {
		t.Fatalf("expected max strategy to find the matching reference, got %g", result.Raw)
	}
}

func TestScoreValueIsClamped(t *testing.T) {
	scorer := newScorer(t, 3, scoring.StrategyMax)
	ctx := context.Background()

	embedding := []float64{1, 0, 0, 0}
	if err := scorer.Bootstrap(ctx, &jobs.CharacterReference{
		CharacterID: "kai",
		Modality:    jobs.ModalityFace,
		AssetRef:    "assets/seed.png",
		Quality:     0.8,
		Embedding:   embedding,
	}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	opposite := testsupport.Scaled(embedding, -1)
	result, err := scorer.Score(ctx, "kai", jobs.ModalityFace, opposite)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if math.Abs(result.Raw-(-1.0)) > 1e-9 {
		t.Fatalf("expected raw -1.0, got %g", result.Raw)
	}
	if result.Value != 0 {
		t.Fatalf("expected recorded value clamped to 0, got %g", result.Value)
	}
}

func TestScoreDimensionMismatchFails(t *testing.T) {
	scorer := newScorer(t, 3, scoring.StrategyMax)
	ctx := context.Background()

	if err := scorer.Bootstrap(ctx, &jobs.CharacterReference{
		CharacterID: "kai",
		Modality:    jobs.ModalityFace,
		AssetRef:    "assets/seed.png",
		Quality:     0.8,
		Embedding:   testsupport.Embedding(16, 1),
	}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if _, err := scorer.Score(ctx, "kai", jobs.ModalityFace, testsupport.Embedding(8, 1)); err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
}

func TestScoreWeightedMeanFavorsHighQuality(t *testing.T) {
	scorer := newScorer(t, 5, scoring.StrategyWeightedMean)
	ctx := context.Background()

	anchor := []float64{1, 0, 0}
	orthogonal := []float64{0, 1, 0}
	refs := []*jobs.CharacterReference{
		{CharacterID: "kai", Modality: jobs.ModalityFace, AssetRef: "a", Quality: 0.9, Embedding: anchor},
		{CharacterID: "kai", Modality: jobs.ModalityFace, AssetRef: "b", Quality: 0.1, Embedding: orthogonal},
	}
	for _, ref := range refs {
		if _, err := scorer.Library().Admit(ctx, ref); err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
	}

	result, err := scorer.Score(ctx, "kai", jobs.ModalityFace, anchor)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	// weighted mean = (1.0*0.9 + 0.0*0.1) / 1.0 = 0.9
	if math.Abs(result.Value-0.9) > 1e-9 {
		t.Fatalf("expected weighted mean 0.9, got %g", result.Value)
	}
}
