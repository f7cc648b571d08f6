package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertScore appends one metric measurement for a job. Scores are never
// updated or deleted; a retried job simply accumulates a second set.
func (s *Store) InsertScore(ctx context.Context, score *ConsistencyScore) error {
	if score == nil {
		return fmt.Errorf("score is nil")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO consistency_scores (
	        job_id, character_id, metric, raw_value, value, threshold_used,
	        passed, reduce_strategy, extraction_failed, reference_count,
	        created_at
	    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		score.JobID,
		NormalizeCharacterID(score.CharacterID),
		score.Metric,
		score.RawValue,
		score.Value,
		score.ThresholdUsed,
		boolToInt(score.Passed),
		nullableString(score.ReduceStrategy),
		boolToInt(score.ExtractionFailed),
		score.ReferenceCount,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	score.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	score.CreatedAt = now
	return nil
}

// ScoresByJob returns all recorded measurements for a job in insertion
// order. A job retried after a failed attempt carries both attempts'
// scores; callers that want only the latest attempt take the last row per
// metric.
func (s *Store) ScoresByJob(ctx context.Context, jobID int64) ([]ConsistencyScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, character_id, metric, raw_value, value,
	            threshold_used, passed, reduce_strategy, extraction_failed,
	            reference_count, created_at
	     FROM consistency_scores WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()
	return collectScores(rows)
}

// LatestScoresByJob returns the most recent measurement per metric for a
// job, keyed by metric name.
func (s *Store) LatestScoresByJob(ctx context.Context, jobID int64) (map[string]ConsistencyScore, error) {
	scores, err := s.ScoresByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]ConsistencyScore, len(scores))
	for _, score := range scores {
		latest[score.Metric] = score
	}
	return latest, nil
}

// ScoredJob pairs a job id with the latest measurement per metric from its
// most recent scoring pass.
type ScoredJob struct {
	JobID  int64
	Scores map[string]ConsistencyScore
}

// RecentScoredJobs returns the last windowSize jobs of a project phase that
// have recorded scores, most recently scored first. This is the quality
// gate's evaluation window.
func (s *Store) RecentScoredJobs(ctx context.Context, projectID string, phase, windowSize int) ([]ScoredJob, error) {
	if windowSize <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT j.id, MAX(cs.id) AS latest_score
	     FROM jobs j JOIN consistency_scores cs ON cs.job_id = j.id
	     WHERE j.project_id = ? AND j.phase = ?
	     GROUP BY j.id
	     ORDER BY latest_score DESC
	     LIMIT ?`,
		NormalizeCharacterID(projectID),
		phase,
		windowSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query scored jobs: %w", err)
	}
	defer rows.Close()

	var jobIDs []int64
	for rows.Next() {
		var id, latest int64
		if err := rows.Scan(&id, &latest); err != nil {
			return nil, err
		}
		jobIDs = append(jobIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scored := make([]ScoredJob, 0, len(jobIDs))
	for _, id := range jobIDs {
		latest, err := s.LatestScoresByJob(ctx, id)
		if err != nil {
			return nil, err
		}
		scored = append(scored, ScoredJob{JobID: id, Scores: latest})
	}
	return scored, nil
}

func collectScores(rows *sql.Rows) ([]ConsistencyScore, error) {
	var scores []ConsistencyScore
	for rows.Next() {
		var (
			score            ConsistencyScore
			passed           sql.NullInt64
			reduceStrategy   sql.NullString
			extractionFailed sql.NullInt64
			createdRaw       sql.NullString
		)
		if err := rows.Scan(
			&score.ID,
			&score.JobID,
			&score.CharacterID,
			&score.Metric,
			&score.RawValue,
			&score.Value,
			&score.ThresholdUsed,
			&passed,
			&reduceStrategy,
			&extractionFailed,
			&score.ReferenceCount,
			&createdRaw,
		); err != nil {
			return nil, err
		}
		score.Passed = passed.Valid && passed.Int64 != 0
		score.ReduceStrategy = reduceStrategy.String
		if extractionFailed.Valid {
			score.ExtractionFailed = extractionFailed.Int64 != 0
		}
		if created, err := parseTimeString(createdRaw.String); err == nil {
			score.CreatedAt = created
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}
