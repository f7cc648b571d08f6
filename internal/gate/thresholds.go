// Package gate decides whether a project may advance to its next
// production phase based on the recent scoring history.
package gate

import (
	"tower/internal/jobs"
)

// Thresholds maps metric identifiers to the minimum recorded score a job
// must reach. All entries point the same direction: higher is better.
type Thresholds map[string]float64

// FromConfig converts configured threshold values into minimum-score form.
// temporal_lpips is configured as a maximum raw distance while recorded
// scores hold 1 minus the distance, so its bound inverts here.
func FromConfig(configured map[string]float64) Thresholds {
	normalized := make(Thresholds, len(configured))
	for metric, value := range configured {
		if metric == jobs.MetricTemporalLPIPS {
			normalized[metric] = 1 - value
			continue
		}
		normalized[metric] = value
	}
	return normalized
}

// ForPhase returns the subset of thresholds evaluated for one phase.
func (t Thresholds) ForPhase(phase int) Thresholds {
	subset := make(Thresholds)
	for _, metric := range jobs.MetricsForPhase(phase) {
		if minimum, ok := t[metric]; ok {
			subset[metric] = minimum
		}
	}
	return subset
}

// Meets reports whether a recorded value satisfies a metric's threshold.
// The comparison is boundary-inclusive; an unknown metric never passes.
func (t Thresholds) Meets(metric string, value float64) bool {
	minimum, ok := t[metric]
	if !ok {
		return false
	}
	return value >= minimum
}
