package scoring

import (
	"errors"
	"fmt"
)

// Reduce strategies supported by [Reduce].
const (
	StrategyMax          = "max"
	StrategyWeightedMean = "weighted_mean"
)

// Comparison is one similarity measurement against a single reference.
type Comparison struct {
	ReferenceID int64
	Similarity  float64
	// Weight carries the reference's quality and only matters for
	// weighted_mean.
	Weight float64
}

// ValidStrategy reports whether the named reduce strategy is known.
func ValidStrategy(strategy string) bool {
	return strategy == StrategyMax || strategy == StrategyWeightedMean
}

// Reduce collapses per-reference similarities into a single raw score.
func Reduce(strategy string, comparisons []Comparison) (float64, error) {
	if len(comparisons) == 0 {
		return 0, errors.New("no comparisons to reduce")
	}

	switch strategy {
	case StrategyMax:
		best := comparisons[0].Similarity
		for _, c := range comparisons[1:] {
			if c.Similarity > best {
				best = c.Similarity
			}
		}
		return best, nil
	case StrategyWeightedMean:
		var weighted, total float64
		for _, c := range comparisons {
			if c.Weight < 0 {
				return 0, fmt.Errorf("negative weight %g for reference %d", c.Weight, c.ReferenceID)
			}
			weighted += c.Similarity * c.Weight
			total += c.Weight
		}
		if total == 0 {
			// All references carry zero quality; fall back to a plain mean.
			var sum float64
			for _, c := range comparisons {
				sum += c.Similarity
			}
			return sum / float64(len(comparisons)), nil
		}
		return weighted / total, nil
	default:
		return 0, fmt.Errorf("unknown reduce strategy %q", strategy)
	}
}
