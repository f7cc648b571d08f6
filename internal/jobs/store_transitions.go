package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func insertTransitionTx(ctx context.Context, tx *sql.Tx, jobID int64, from, to Status, reason, detail, timestamp string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_transitions (job_id, from_status, to_status, reason, detail, created_at)
	     VALUES (?, ?, ?, ?, ?, ?)`,
		jobID,
		from,
		to,
		nullableString(reason),
		nullableString(detail),
		timestamp,
	); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// TransitionsByJob returns the append-only transition log for a job in
// chronological order.
func (s *Store) TransitionsByJob(ctx context.Context, jobID int64) ([]JobTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, from_status, to_status, reason, detail, created_at
	     FROM job_transitions WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []JobTransition
	for rows.Next() {
		var (
			t          JobTransition
			fromStatus string
			toStatus   string
			reason     sql.NullString
			detail     sql.NullString
			createdRaw sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.JobID, &fromStatus, &toStatus, &reason, &detail, &createdRaw); err != nil {
			return nil, err
		}
		t.FromStatus = Status(fromStatus)
		t.ToStatus = Status(toStatus)
		t.Reason = reason.String
		t.Detail = detail.String
		if created, err := parseTimeString(createdRaw.String); err == nil {
			t.CreatedAt = created
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// ResetStuckProcessing returns jobs found dispatched or rendering back to
// queued. Called once at daemon startup: anything in a render-side state when
// the previous process died lost its worker and its in-flight render, so it
// starts over. Scoring rows are left alone; their asset reference is already
// persisted and the scoring lane re-claims them directly. The reset does not
// charge a retry. Returns the ids that were reset.
func (s *Store) ResetStuckProcessing(ctx context.Context) ([]int64, error) {
	stuck, err := s.List(ctx, StatusDispatched, StatusRendering)
	if err != nil {
		return nil, err
	}

	var reset []int64
	for _, job := range stuck {
		now := time.Now().UTC()
		timestamp := now.Format(time.RFC3339Nano)
		from := job.Status
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`UPDATE jobs
	             SET status = ?, renderer_handle = NULL, progress_percent = 0,
	                 progress_message = 'Reset after restart', last_poll_at = NULL,
	                 dispatched_at = NULL, updated_at = ?
	             WHERE id = ? AND status = ?`,
				StatusQueued, timestamp, job.ID, from,
			)
			if err != nil {
				return fmt.Errorf("reset stuck job: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 0 {
				return nil
			}
			if err := insertTransitionTx(ctx, tx, job.ID, from, StatusQueued, "daemon_restart", "", timestamp); err != nil {
				return err
			}
			reset = append(reset, job.ID)
			return nil
		})
		if err != nil {
			return reset, err
		}
	}
	return reset, nil
}

// StaleProcessing returns in-flight jobs whose renderer has not been heard
// from since cutoff: rendering jobs with an expired poll timestamp, and
// dispatched jobs that never reached their first poll. The caller resolves
// each through the normal failure path so the timeout is audited.
func (s *Store) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	cutoffStr := cutoff.UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
	     WHERE (status = ? AND last_poll_at IS NOT NULL AND last_poll_at < ?)
	        OR (status = ? AND dispatched_at IS NOT NULL AND dispatched_at < ?)
	     ORDER BY id`,
		StatusRendering, cutoffStr,
		StatusDispatched, cutoffStr,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer rows.Close()

	var items []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, job)
	}
	return items, rows.Err()
}
