// Package scoring computes consistency scores for rendered assets by
// comparing extracted embeddings against a character's curated reference
// set. Raw cosine similarity lands in [-1, 1]; recorded score values are
// clamped to [0, 1] so gate thresholds compare on a single scale.
package scoring

import (
	"errors"
	"fmt"
	"math"
)

// Cosine returns the cosine similarity between two embeddings.
func Cosine(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.New("empty embedding")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0, errors.New("zero-magnitude embedding")
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// ClampUnit clamps a raw similarity into the recorded score range [0, 1].
// NaN clamps to 0 so a degenerate comparison can never pass a threshold.
func ClampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
