package scoring

import (
	"context"
	"errors"
	"fmt"

	"tower/internal/jobs"
)

// ErrNoReferences is returned when a character has no reference set yet.
// The scoring stage treats this as the bootstrap case rather than a failure.
var ErrNoReferences = errors.New("no references for character")

// Result is one reduced score against a reference set.
type Result struct {
	// Raw is the reduced similarity before clamping, useful for logs.
	Raw float64
	// Value is the recorded score, clamped to [0, 1].
	Value float64
	// ReferenceCount is the set size the score was computed against.
	ReferenceCount int
	// Strategy names the reduce strategy that produced the value.
	Strategy string
}

// Scorer reduces embedding similarities against a character's references.
type Scorer struct {
	library  *Library
	strategy string
}

// NewScorer validates the strategy and binds it to a reference library.
func NewScorer(library *Library, strategy string) (*Scorer, error) {
	if library == nil {
		return nil, fmt.Errorf("library is required")
	}
	if !ValidStrategy(strategy) {
		return nil, fmt.Errorf("unknown reduce strategy %q", strategy)
	}
	return &Scorer{library: library, strategy: strategy}, nil
}

// Strategy returns the configured reduce strategy.
func (s *Scorer) Strategy() string {
	return s.strategy
}

// Score compares an embedding against the character's reference set and
// reduces the per-reference similarities into a single result. Returns
// ErrNoReferences when the set is empty.
func (s *Scorer) Score(ctx context.Context, characterID, modality string, embedding []float64) (Result, error) {
	refs, err := s.library.References(ctx, characterID, modality)
	if err != nil {
		return Result{}, err
	}
	if len(refs) == 0 {
		return Result{}, fmt.Errorf("character %q modality %q: %w", characterID, modality, ErrNoReferences)
	}

	comparisons := make([]Comparison, 0, len(refs))
	for _, ref := range refs {
		similarity, err := Cosine(embedding, ref.Embedding)
		if err != nil {
			return Result{}, fmt.Errorf("compare against reference %d: %w", ref.ID, err)
		}
		comparisons = append(comparisons, Comparison{
			ReferenceID: ref.ID,
			Similarity:  similarity,
			Weight:      ref.Quality,
		})
	}

	raw, err := Reduce(s.strategy, comparisons)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Raw:            raw,
		Value:          ClampUnit(raw),
		ReferenceCount: len(refs),
		Strategy:       s.strategy,
	}, nil
}

// Bootstrap seeds an empty reference set from a job's own extraction so the
// character's first render has an anchor for later jobs. The caller records
// the score for the bootstrapping job itself.
func (s *Scorer) Bootstrap(ctx context.Context, ref *jobs.CharacterReference) error {
	added, err := s.library.Admit(ctx, ref)
	if err != nil {
		return err
	}
	if !added {
		return fmt.Errorf("bootstrap reference for %q was not admitted", ref.CharacterID)
	}
	return nil
}

// Library exposes the underlying reference library.
func (s *Scorer) Library() *Library {
	return s.library
}
