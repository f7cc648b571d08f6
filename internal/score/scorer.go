package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/gate"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/scoring"
	"tower/internal/services"
	"tower/internal/services/embedder"
	"tower/internal/stage"
)

// Extractor is the slice of the embedding service the scoring stage uses.
type Extractor interface {
	Extract(ctx context.Context, assetRef, modality string) ([]float64, error)
	Measure(ctx context.Context, assetRef, metric string) (float64, error)
	Health(ctx context.Context) error
}

// Scorer is the scoring stage. It turns a rendered asset into per-metric
// consistency scores, feeds the phase gate, and moves the job to passed or
// reports the failure for the manager to resolve.
type Scorer struct {
	store       *jobs.Store
	cfg         *config.Config
	logger      *slog.Logger
	extractor   Extractor
	consistency *scoring.Scorer
	gate        *gate.Evaluator
	publisher   *broadcast.Publisher
}

// NewScorer builds the scoring stage with an HTTP extractor client from the
// configuration.
func NewScorer(cfg *config.Config, store *jobs.Store, logger *slog.Logger, publisher *broadcast.Publisher) (*Scorer, error) {
	client := embedder.NewClient(cfg.Extractor.BaseURL,
		embedder.WithTimeout(time.Duration(cfg.Extractor.RequestTimeout)*time.Second))
	return NewScorerWithExtractor(cfg, store, logger, publisher, client)
}

// NewScorerWithExtractor builds the scoring stage around an injected
// extractor.
func NewScorerWithExtractor(cfg *config.Config, store *jobs.Store, logger *slog.Logger, publisher *broadcast.Publisher, extractor Extractor) (*Scorer, error) {
	library, err := scoring.NewLibrary(store, cfg.Scoring.ReferenceCapacity)
	if err != nil {
		return nil, fmt.Errorf("reference library: %w", err)
	}
	consistency, err := scoring.NewScorer(library, cfg.Scoring.ReduceStrategy)
	if err != nil {
		return nil, fmt.Errorf("consistency scorer: %w", err)
	}
	return &Scorer{
		store:       store,
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "score"),
		extractor:   extractor,
		consistency: consistency,
		gate:        gate.NewEvaluator(cfg, store, logger),
		publisher:   publisher,
	}, nil
}

// Gate exposes the evaluator sharing this stage's thresholds, used by the
// status surfaces.
func (s *Scorer) Gate() *gate.Evaluator {
	return s.gate
}

// Library exposes the character reference library.
func (s *Scorer) Library() *scoring.Library {
	return s.consistency.Library()
}

// Prepare marks the job as entering scoring.
func (s *Scorer) Prepare(ctx context.Context, job *jobs.Job) error {
	job.SetProgress("Scoring render output", 0)
	job.ErrorMessage = ""
	s.logger.Info("scoring started",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldCharacter, job.CharacterID),
		logging.Int(logging.FieldPhase, job.Phase),
	)
	return nil
}

// Execute scores every metric of the job's phase, persists the results,
// recomputes the phase gate, and resolves the outcome. Returns nil when the
// job passed or a cancellation aborted it; the manager re-reads the status.
// Threshold and extraction failures come back as wrapped markers so the
// manager can route the retry.
func (s *Scorer) Execute(ctx context.Context, job *jobs.Job) error {
	fresh, err := s.store.JobByID(ctx, job.ID)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "score", "execute", "reload job", err)
	}
	if fresh == nil {
		return services.Wrap(services.ErrNotFound, "score", "execute", fmt.Sprintf("job %d disappeared", job.ID), nil)
	}
	job.CancelRequested = fresh.CancelRequested
	if job.CancelRequested {
		return s.abandonCanceled(ctx, job)
	}
	if job.AssetRef == "" {
		return services.Wrap(services.ErrRenderFailure, "score", "execute", "Job reached scoring without a rendered asset", nil)
	}

	thresholds := s.gate.Thresholds()
	metrics := jobs.MetricsForPhase(job.Phase)
	outcomes := make([]metricOutcome, 0, len(metrics))
	for _, metric := range metrics {
		outcome, err := s.scoreMetric(ctx, job, metric, thresholds)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTransient, "score", "execute", "Scoring interrupted by shutdown", ctx.Err())
		}
		outcomes = append(outcomes, outcome)
	}

	recorded := make(map[string]jobs.ConsistencyScore, len(outcomes))
	for i := range outcomes {
		if err := s.store.InsertScore(ctx, &outcomes[i].score); err != nil {
			return services.Wrap(services.ErrPersistence, "score", "execute", "persist score", err)
		}
		recorded[outcomes[i].score.Metric] = outcomes[i].score
	}
	s.publisher.ScoresRecorded(job, recorded)

	gateResult, err := s.gate.Evaluate(ctx, job.ProjectID, job.Phase)
	if err != nil {
		return err
	}
	s.publisher.GateEvaluated(gateResult)

	return s.resolve(ctx, job, outcomes)
}

// HealthCheck verifies the extractor service is reachable.
func (s *Scorer) HealthCheck(ctx context.Context) stage.Health {
	const name = "score"
	if s.cfg == nil {
		return stage.Unhealthy(name, "configuration not loaded")
	}
	if s.extractor == nil {
		return stage.Unhealthy(name, "extractor client not configured")
	}
	if err := s.extractor.Health(ctx); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}

// metricOutcome pairs a score row with the embedding that produced it, when
// one exists, so a passing job can offer the embedding to the reference
// library.
type metricOutcome struct {
	score     jobs.ConsistencyScore
	embedding []float64
	modality  string
}

func (s *Scorer) scoreMetric(ctx context.Context, job *jobs.Job, metric string, thresholds gate.Thresholds) (metricOutcome, error) {
	switch metric {
	case jobs.MetricFaceSimilarity, jobs.MetricSubjectConsistency:
		return s.embeddingMetric(ctx, job, metric, jobs.ModalityFace, thresholds)
	case jobs.MetricStyleAdherence:
		return s.embeddingMetric(ctx, job, metric, jobs.ModalityStyle, thresholds)
	default:
		return s.measuredMetric(ctx, job, metric, thresholds)
	}
}

// embeddingMetric extracts an embedding and scores it against the matching
// reference set. An empty set is the bootstrap case: the job's own embedding
// seeds the set and the metric scores its threshold exactly.
func (s *Scorer) embeddingMetric(ctx context.Context, job *jobs.Job, metric, modality string, thresholds gate.Thresholds) (metricOutcome, error) {
	threshold := thresholds[metric]
	outcome := metricOutcome{
		modality: modality,
		score: jobs.ConsistencyScore{
			JobID:          job.ID,
			CharacterID:    job.CharacterID,
			Metric:         metric,
			ThresholdUsed:  threshold,
			ReduceStrategy: s.consistency.Strategy(),
		},
	}

	embedding, err := s.extractor.Extract(ctx, job.AssetRef, modality)
	if err != nil {
		s.recordExtractionFailure(&outcome.score, job, err)
		return outcome, nil
	}

	result, err := s.consistency.Score(ctx, job.CharacterID, modality, embedding)
	if errors.Is(err, scoring.ErrNoReferences) {
		if err := s.consistency.Bootstrap(ctx, &jobs.CharacterReference{
			CharacterID: job.CharacterID,
			Modality:    modality,
			AssetRef:    job.AssetRef,
			Quality:     threshold,
			Embedding:   embedding,
			AddedByJob:  job.ID,
		}); err != nil {
			return outcome, services.Wrap(services.ErrPersistence, "score", "bootstrap", "seed reference set", err)
		}
		outcome.score.RawValue = threshold
		outcome.score.Value = threshold
		outcome.score.Passed = true
		s.logger.Info("reference set bootstrapped",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldCharacter, job.CharacterID),
			logging.String("modality", modality),
		)
		return outcome, nil
	}
	if err != nil {
		s.recordExtractionFailure(&outcome.score, job, err)
		return outcome, nil
	}

	outcome.score.RawValue = result.Raw
	outcome.score.Value = result.Value
	outcome.score.ReferenceCount = result.ReferenceCount
	outcome.score.Passed = thresholds.Meets(metric, result.Value)
	outcome.embedding = embedding
	return outcome, nil
}

// measuredMetric asks the extractor for a scalar measurement. LPIPS arrives
// as a distance and is stored inverted so every recorded value reads
// higher-is-better.
func (s *Scorer) measuredMetric(ctx context.Context, job *jobs.Job, metric string, thresholds gate.Thresholds) (metricOutcome, error) {
	threshold := thresholds[metric]
	outcome := metricOutcome{
		score: jobs.ConsistencyScore{
			JobID:         job.ID,
			CharacterID:   job.CharacterID,
			Metric:        metric,
			ThresholdUsed: threshold,
		},
	}

	raw, err := s.extractor.Measure(ctx, job.AssetRef, metric)
	if err != nil {
		s.recordExtractionFailure(&outcome.score, job, err)
		return outcome, nil
	}

	value := scoring.ClampUnit(raw)
	if metric == jobs.MetricTemporalLPIPS {
		value = scoring.ClampUnit(1 - raw)
	}
	outcome.score.RawValue = raw
	outcome.score.Value = value
	outcome.score.Passed = thresholds.Meets(metric, value)
	return outcome, nil
}

// recordExtractionFailure marks a metric as unscorable. The zero value
// counts against the thresholds; an asset the extractor cannot process never
// passes silently.
func (s *Scorer) recordExtractionFailure(score *jobs.ConsistencyScore, job *jobs.Job, cause error) {
	score.RawValue = 0
	score.Value = 0
	score.Passed = false
	score.ExtractionFailed = true
	s.logger.Warn("metric extraction failed",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("metric", score.Metric),
		logging.Error(cause),
	)
}

func (s *Scorer) resolve(ctx context.Context, job *jobs.Job, outcomes []metricOutcome) error {
	var failing []string
	extractionFailed := false
	for _, outcome := range outcomes {
		if outcome.score.Passed {
			continue
		}
		failing = append(failing, fmt.Sprintf("%s %.2f (min %.2f)", outcome.score.Metric, outcome.score.Value, outcome.score.ThresholdUsed))
		if outcome.score.ExtractionFailed {
			extractionFailed = true
		}
	}

	if len(failing) == 0 {
		return s.finishPassed(ctx, job, outcomes)
	}

	marker := services.ErrThresholdNotMet
	if extractionFailed {
		marker = services.ErrExtractionFailed
	}
	return services.Wrap(marker, "score", "evaluate", "Metrics below threshold: "+strings.Join(failing, ", "), nil)
}

func (s *Scorer) finishPassed(ctx context.Context, job *jobs.Job, outcomes []metricOutcome) error {
	summary := scoreSummary(outcomes)
	job.SetProgress("Quality thresholds met", 100)
	if err := s.store.Transition(ctx, job, jobs.StatusScoring, jobs.StatusPassed, "thresholds_met", summary); err != nil {
		return services.Wrap(services.ErrPersistence, "score", "resolve", "record pass", err)
	}
	s.publisher.StatusChanged(job, jobs.StatusScoring, "thresholds_met")

	s.admitCandidates(ctx, job, outcomes)

	if err := s.store.Transition(ctx, job, jobs.StatusPassed, jobs.StatusCompleted, "completed", ""); err != nil {
		return services.Wrap(services.ErrPersistence, "score", "resolve", "record completion", err)
	}
	s.publisher.StatusChanged(job, jobs.StatusPassed, "completed")

	s.logger.Info("job completed",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldCharacter, job.CharacterID),
		logging.String("scores", summary),
	)
	return nil
}

// admitCandidates offers the run's embeddings to the reference library with
// the achieved score as their quality. A passed job stays passed even when
// the library declines a candidate or the write fails.
func (s *Scorer) admitCandidates(ctx context.Context, job *jobs.Job, outcomes []metricOutcome) {
	for _, outcome := range outcomes {
		if len(outcome.embedding) == 0 {
			continue
		}
		added, err := s.consistency.Library().Admit(ctx, &jobs.CharacterReference{
			CharacterID: job.CharacterID,
			Modality:    outcome.modality,
			AssetRef:    job.AssetRef,
			Quality:     outcome.score.Value,
			Embedding:   outcome.embedding,
			AddedByJob:  job.ID,
		})
		if err != nil {
			s.logger.Warn("reference admission failed",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String("modality", outcome.modality),
				logging.Error(err),
			)
			continue
		}
		if added {
			s.logger.Debug("reference admitted",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String(logging.FieldCharacter, job.CharacterID),
				logging.String("modality", outcome.modality),
				logging.Float64("quality", outcome.score.Value),
			)
		}
	}
}

func (s *Scorer) abandonCanceled(ctx context.Context, job *jobs.Job) error {
	job.FailureReason = jobs.CancelReason
	job.SetProgress("Canceled before scoring", job.ProgressPercent)
	if err := s.store.Transition(ctx, job, jobs.StatusScoring, jobs.StatusAborted, jobs.CancelReason, "Render result discarded"); err != nil {
		return services.Wrap(services.ErrPersistence, "score", "cancel", "record abort", err)
	}
	s.publisher.StatusChanged(job, jobs.StatusScoring, jobs.CancelReason)
	s.logger.Info("job canceled before scoring",
		logging.Int64(logging.FieldJobID, job.ID),
	)
	return nil
}

func scoreSummary(outcomes []metricOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		parts = append(parts, fmt.Sprintf("%s %.2f", outcome.score.Metric, outcome.score.Value))
	}
	return strings.Join(parts, ", ")
}
