package gate_test

import (
	"context"
	"math"
	"testing"

	"tower/internal/config"
	"tower/internal/gate"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/testsupport"
)

func scoredJob(id int64, values map[string]float64) jobs.ScoredJob {
	scores := make(map[string]jobs.ConsistencyScore, len(values))
	for metric, value := range values {
		scores[metric] = jobs.ConsistencyScore{JobID: id, Metric: metric, Value: value}
	}
	return jobs.ScoredJob{JobID: id, Scores: scores}
}

func passingPhase1(id int64) jobs.ScoredJob {
	return scoredJob(id, map[string]float64{
		jobs.MetricFaceSimilarity: 0.85,
		jobs.MetricStyleAdherence: 0.90,
	})
}

func defaultThresholds() gate.Thresholds {
	return gate.FromConfig(config.DefaultThresholds())
}

func TestEvaluateAdvanceAtExactBoundary(t *testing.T) {
	window := []jobs.ScoredJob{
		passingPhase1(1),
		passingPhase1(2),
		passingPhase1(3),
		passingPhase1(4),
		scoredJob(5, map[string]float64{
			jobs.MetricFaceSimilarity: 0.55,
			jobs.MetricStyleAdherence: 0.90,
		}),
	}

	result := gate.Evaluate("kai", 1, window, 5, defaultThresholds(), 0.80)
	if math.Abs(result.PassRate-0.8) > 1e-12 {
		t.Fatalf("expected pass rate 0.8, got %g", result.PassRate)
	}
	if result.PassCount != 4 {
		t.Fatalf("expected 4 passing jobs, got %d", result.PassCount)
	}
	if !result.Advanced() {
		t.Fatalf("expected 4/5 window to advance at rate 0.80, got %s", result.Decision)
	}
	if len(result.BlockingMetrics) != 0 {
		t.Fatalf("expected no blocking metrics on advance, got %v", result.BlockingMetrics)
	}
}

func TestEvaluateBlocksBelowRate(t *testing.T) {
	window := []jobs.ScoredJob{
		passingPhase1(1),
		passingPhase1(2),
		passingPhase1(3),
		scoredJob(4, map[string]float64{
			jobs.MetricFaceSimilarity: 0.40,
			jobs.MetricStyleAdherence: 0.90,
		}),
		scoredJob(5, map[string]float64{
			jobs.MetricFaceSimilarity: 0.50,
			jobs.MetricStyleAdherence: 0.70,
		}),
	}

	result := gate.Evaluate("kai", 1, window, 5, defaultThresholds(), 0.80)
	if result.Advanced() {
		t.Fatal("expected 3/5 window to block")
	}
	if math.Abs(result.PassRate-0.6) > 1e-12 {
		t.Fatalf("expected pass rate 0.6, got %g", result.PassRate)
	}
	// face_similarity failed twice, style_adherence once.
	if len(result.BlockingMetrics) != 2 {
		t.Fatalf("expected 2 blocking metrics, got %v", result.BlockingMetrics)
	}
	if result.BlockingMetrics[0] != jobs.MetricFaceSimilarity {
		t.Fatalf("expected most frequent failure first, got %v", result.BlockingMetrics)
	}
	if result.BlockingMetrics[1] != jobs.MetricStyleAdherence {
		t.Fatalf("expected style_adherence second, got %v", result.BlockingMetrics)
	}
}

func TestEvaluateBoundaryValuesPass(t *testing.T) {
	window := []jobs.ScoredJob{
		scoredJob(1, map[string]float64{
			jobs.MetricFaceSimilarity: 0.70,
			jobs.MetricStyleAdherence: 0.85,
		}),
	}

	result := gate.Evaluate("kai", 1, window, 1, defaultThresholds(), 0.80)
	if !result.Advanced() {
		t.Fatalf("expected values exactly at thresholds to pass, got %s", result.Decision)
	}
	if result.PassRate != 1.0 {
		t.Fatalf("expected pass rate 1.0, got %g", result.PassRate)
	}
}

func TestEvaluatePartialWindowDampsPassRate(t *testing.T) {
	window := []jobs.ScoredJob{
		passingPhase1(1),
		passingPhase1(2),
		passingPhase1(3),
	}

	result := gate.Evaluate("kai", 1, window, 5, defaultThresholds(), 0.80)
	if result.Advanced() {
		t.Fatal("expected 3 passing jobs against window size 5 to block")
	}
	if math.Abs(result.PassRate-0.6) > 1e-12 {
		t.Fatalf("expected pass rate 3/5, got %g", result.PassRate)
	}
	if result.PassCount != 3 {
		t.Fatalf("expected 3 passing jobs, got %d", result.PassCount)
	}
	if result.JobsConsidered != 3 || result.WindowSize != 5 {
		t.Fatalf("expected 3 jobs against window 5, got %+v", result)
	}
	if len(result.BlockingMetrics) != 0 {
		t.Fatalf("expected no metric failures when blocked on volume, got %v", result.BlockingMetrics)
	}
}

func TestEvaluateEmptyWindowBlocks(t *testing.T) {
	result := gate.Evaluate("kai", 1, nil, 5, defaultThresholds(), 0.80)
	if result.Advanced() {
		t.Fatal("expected empty window to block")
	}
	if result.PassRate != 0 {
		t.Fatalf("expected pass rate 0, got %g", result.PassRate)
	}
	if result.JobsConsidered != 0 || result.WindowSize != 5 {
		t.Fatalf("expected empty window against size 5, got %+v", result)
	}
}

func TestEvaluateMissingMetricFailsJob(t *testing.T) {
	window := []jobs.ScoredJob{
		scoredJob(1, map[string]float64{
			jobs.MetricFaceSimilarity: 0.95,
			// style_adherence never recorded
		}),
	}

	result := gate.Evaluate("kai", 1, window, 1, defaultThresholds(), 0.80)
	if result.Advanced() {
		t.Fatal("expected job missing a phase metric to fail")
	}
	if len(result.BlockingMetrics) != 1 || result.BlockingMetrics[0] != jobs.MetricStyleAdherence {
		t.Fatalf("expected missing metric to block, got %v", result.BlockingMetrics)
	}
}

func TestEvaluatorPersistsDecisions(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithGateWindow(5, 0.80))
	store := testsupport.MustOpenStore(t, cfg)
	evaluator := gate.NewEvaluator(cfg, store, logging.NewNop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		job := testsupport.MustCreateJob(t, store, testsupport.StillSpec("kai"))
		face := 0.85
		if i == 0 {
			face = 0.40
		}
		for metric, value := range map[string]float64{
			jobs.MetricFaceSimilarity: face,
			jobs.MetricStyleAdherence: 0.90,
		} {
			score := &jobs.ConsistencyScore{JobID: job.ID, Metric: metric, RawValue: value, Value: value}
			if err := store.InsertScore(ctx, score); err != nil {
				t.Fatalf("InsertScore failed: %v", err)
			}
		}
	}

	result, err := evaluator.Evaluate(ctx, "kai", 1)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Advanced() {
		t.Fatalf("expected 4/5 passing window to advance, got %+v", result)
	}

	latest, err := evaluator.Latest(ctx, "kai", 1)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest == nil || latest.Decision != result.Decision {
		t.Fatalf("expected persisted decision %s, got %+v", result.Decision, latest)
	}

	history, err := evaluator.History(ctx, "kai")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one gate result in history, got %d", len(history))
	}
}
