package gate

import (
	"context"
	"log/slog"
	"sort"

	"tower/internal/config"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/services"
)

// Evaluate computes a gate decision over a window of scored jobs. The
// function is deterministic: same window, thresholds, and advance rate
// always yield the same result. A job counts as passing only when every
// metric of its phase is present and meets its threshold. pass_rate divides
// by the window size K, not by the jobs actually found, so a phase with
// fewer than K scored jobs stays blocked until enough evidence accumulates.
// The decision is ADVANCE when pass_rate >= advanceRate
// (boundary-inclusive); otherwise BLOCK, with blocking_metrics listing the
// failing metrics ordered by how often they fell short across the window.
func Evaluate(projectID string, phase int, window []jobs.ScoredJob, windowSize int, thresholds Thresholds, advanceRate float64) *jobs.PhaseGateResult {
	metrics := jobs.MetricsForPhase(phase)
	failures := make(map[string]int, len(metrics))

	passed := 0
	for _, scored := range window {
		ok := true
		for _, metric := range metrics {
			score, present := scored.Scores[metric]
			if !present || !thresholds.Meets(metric, score.Value) {
				failures[metric]++
				ok = false
			}
		}
		if ok {
			passed++
		}
	}

	if windowSize < len(window) {
		windowSize = len(window)
	}
	result := &jobs.PhaseGateResult{
		ProjectID:      projectID,
		Phase:          phase,
		PassCount:      passed,
		WindowSize:     windowSize,
		JobsConsidered: len(window),
	}
	if windowSize > 0 {
		result.PassRate = float64(passed) / float64(windowSize)
	}

	if len(window) > 0 && result.PassRate >= advanceRate {
		result.Decision = jobs.DecisionAdvance
		return result
	}

	result.Decision = jobs.DecisionBlock
	result.BlockingMetrics = rankFailures(metrics, failures)
	return result
}

// rankFailures orders failing metrics by descending failure count, breaking
// ties by the phase's canonical metric order.
func rankFailures(metrics []string, failures map[string]int) []string {
	var failing []string
	for _, metric := range metrics {
		if failures[metric] > 0 {
			failing = append(failing, metric)
		}
	}
	sort.SliceStable(failing, func(i, j int) bool {
		return failures[failing[i]] > failures[failing[j]]
	})
	return failing
}

// Evaluator loads score windows from the store and persists decisions.
type Evaluator struct {
	store       *jobs.Store
	thresholds  Thresholds
	windowSize  int
	advanceRate float64
	logger      *slog.Logger
}

// NewEvaluator builds an evaluator from the gate configuration.
func NewEvaluator(cfg *config.Config, store *jobs.Store, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:       store,
		thresholds:  FromConfig(cfg.Gate.Thresholds),
		windowSize:  cfg.Gate.WindowSize,
		advanceRate: cfg.Gate.PassRate,
		logger:      logging.NewComponentLogger(logger, "gate"),
	}
}

// Thresholds returns the normalized minimum-score thresholds in use.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate recomputes the gate for a project phase from the most recent
// scored jobs and persists the decision.
func (e *Evaluator) Evaluate(ctx context.Context, projectID string, phase int) (*jobs.PhaseGateResult, error) {
	window, err := e.store.RecentScoredJobs(ctx, projectID, phase, e.windowSize)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "gate", "evaluate", "load score window", err)
	}

	result := Evaluate(projectID, phase, window, e.windowSize, e.thresholds, e.advanceRate)
	if err := e.store.InsertGateResult(ctx, result); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "gate", "evaluate", "persist gate result", err)
	}

	e.logger.Info("gate evaluated",
		logging.String(logging.FieldProject, projectID),
		logging.Int(logging.FieldPhase, phase),
		logging.String("decision", result.Decision),
		logging.Float64("pass_rate", result.PassRate),
		logging.Int("jobs_considered", result.JobsConsidered),
		logging.Any("blocking_metrics", result.BlockingMetrics),
	)
	return result, nil
}

// Latest returns the most recent persisted decision, or nil when the phase
// has never been evaluated.
func (e *Evaluator) Latest(ctx context.Context, projectID string, phase int) (*jobs.PhaseGateResult, error) {
	result, err := e.store.LatestGateResult(ctx, projectID, phase)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "gate", "latest", "load gate result", err)
	}
	return result, nil
}

// History returns all persisted decisions for a project, newest first.
func (e *Evaluator) History(ctx context.Context, projectID string) ([]jobs.PhaseGateResult, error) {
	results, err := e.store.GateResultsByProject(ctx, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "gate", "history", "load gate results", err)
	}
	return results, nil
}
