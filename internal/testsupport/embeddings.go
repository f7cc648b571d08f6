package testsupport

import "math"

// Embedding produces a deterministic unit-length vector of the requested
// dimension. Different seeds give vectors that are neither parallel nor
// orthogonal, which is enough for similarity tests.
func Embedding(dim int, seed int64) []float64 {
	if dim <= 0 {
		dim = 8
	}
	vector := make([]float64, dim)
	var sumSquares float64
	for i := range vector {
		vector[i] = math.Sin(float64(seed)*1.7 + float64(i)*0.9)
		sumSquares += vector[i] * vector[i]
	}
	norm := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}

// Scaled returns a copy of vector multiplied by factor. Cosine similarity is
// scale invariant, so tests use this to confirm that property.
func Scaled(vector []float64, factor float64) []float64 {
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = v * factor
	}
	return out
}
