package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertGateResult appends one quality-gate evaluation to the audit trail.
func (s *Store) InsertGateResult(ctx context.Context, result *PhaseGateResult) error {
	if result == nil {
		return fmt.Errorf("gate result is nil")
	}
	blocking, err := marshalStrings(result.BlockingMetrics)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO phase_gate_results (
	        project_id, phase, decision, pass_rate, pass_count, window_size,
	        jobs_considered, blocking_metrics, evaluated_at
	    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		NormalizeCharacterID(result.ProjectID),
		result.Phase,
		result.Decision,
		result.PassRate,
		result.PassCount,
		result.WindowSize,
		result.JobsConsidered,
		blocking,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert gate result: %w", err)
	}
	result.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	result.EvaluatedAt = now
	return nil
}

// LatestGateResult returns the most recent gate evaluation for a project
// phase, or nil when the phase has never been evaluated.
func (s *Store) LatestGateResult(ctx context.Context, projectID string, phase int) (*PhaseGateResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, phase, decision, pass_rate, pass_count,
	            window_size, jobs_considered, blocking_metrics, evaluated_at
	     FROM phase_gate_results
	     WHERE project_id = ? AND phase = ?
	     ORDER BY id DESC LIMIT 1`,
		NormalizeCharacterID(projectID),
		phase,
	)
	result, err := scanGateResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gate result: %w", err)
	}
	return result, nil
}

// GateResultsByProject returns all gate evaluations for a project in
// chronological order.
func (s *Store) GateResultsByProject(ctx context.Context, projectID string) ([]PhaseGateResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, phase, decision, pass_rate, pass_count,
	            window_size, jobs_considered, blocking_metrics, evaluated_at
	     FROM phase_gate_results WHERE project_id = ? ORDER BY id`,
		NormalizeCharacterID(projectID),
	)
	if err != nil {
		return nil, fmt.Errorf("query gate results: %w", err)
	}
	defer rows.Close()

	var results []PhaseGateResult
	for rows.Next() {
		result, err := scanGateResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

func scanGateResult(scanner interface{ Scan(dest ...any) error }) (*PhaseGateResult, error) {
	var (
		result      PhaseGateResult
		blocking    sql.NullString
		evaluatedAt sql.NullString
	)
	if err := scanner.Scan(
		&result.ID,
		&result.ProjectID,
		&result.Phase,
		&result.Decision,
		&result.PassRate,
		&result.PassCount,
		&result.WindowSize,
		&result.JobsConsidered,
		&blocking,
		&evaluatedAt,
	); err != nil {
		return nil, err
	}

	metrics, err := unmarshalStrings(blocking)
	if err != nil {
		return nil, err
	}
	result.BlockingMetrics = metrics
	if evaluated, err := parseTimeString(evaluatedAt.String); err == nil {
		result.EvaluatedAt = evaluated
	}
	return &result, nil
}
