package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateJob validates nothing; callers validate the spec first. It inserts
// the job and its generation parameters in one transaction, enforcing queue
// capacity inside that transaction so concurrent submits cannot overshoot.
// The job lands in StatusQueued with a created-to-queued audit row.
func (s *Store) CreateJob(ctx context.Context, spec JobSpec, queueCapacity int) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	characterID := NormalizeCharacterID(spec.CharacterID)
	projectID := NormalizeCharacterID(spec.ProjectID)
	if projectID == "" {
		projectID = characterID
	}

	var jobID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if queueCapacity > 0 {
			var waiting int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM jobs WHERE status IN (?, ?)`,
				StatusQueued, StatusRetryQueued,
			).Scan(&waiting); err != nil {
				return fmt.Errorf("count waiting jobs: %w", err)
			}
			if waiting >= queueCapacity {
				return ErrQueueAtCapacity
			}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
	            job_type, phase, status, priority, retry_count, max_retries,
	            character_id, project_id, prompt, progress_percent, created_at, updated_at
	        ) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, 0, ?, ?)`,
			spec.JobType,
			spec.JobType.Phase(),
			StatusQueued,
			spec.Priority,
			spec.MaxRetries,
			characterID,
			projectID,
			spec.Prompt,
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		jobID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		loraRefs, err := marshalStrings(spec.Params.LoraRefs)
		if err != nil {
			return err
		}
		controlNetRefs, err := marshalStrings(spec.Params.ControlNetRefs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO generation_params (
	            job_id, seed, model_id, sampler, scheduler, steps, cfg_scale,
	            width, height, frame_count, lora_refs, controlnet_refs, workflow_graph_ref
	        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID,
			spec.Params.Seed,
			spec.Params.ModelID,
			spec.Params.Sampler,
			nullableString(spec.Params.Scheduler),
			spec.Params.Steps,
			spec.Params.CFGScale,
			spec.Params.Width,
			spec.Params.Height,
			spec.Params.FrameCount,
			loraRefs,
			controlNetRefs,
			nullableString(spec.Params.WorkflowGraphRef),
		); err != nil {
			return fmt.Errorf("insert generation params: %w", err)
		}

		return insertTransitionTx(ctx, tx, jobID, StatusCreated, StatusQueued, "submit", "", timestamp)
	})
	if err != nil {
		return nil, err
	}

	return s.JobByID(ctx, jobID)
}

// JobByID fetches a job by identifier. Returns nil when no job exists.
func (s *Store) JobByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
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

// ListByCharacter returns all jobs for a character, oldest first.
func (s *Store) ListByCharacter(ctx context.Context, characterID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE character_id = ? ORDER BY created_at, id`,
		NormalizeCharacterID(characterID),
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs by character: %w", err)
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

// ClaimNextQueued atomically moves the highest-priority queued job to
// StatusDispatched and returns it. Returns nil when the queue is empty or
// another worker won the claim.
func (s *Store) ClaimNextQueued(ctx context.Context) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var claimedID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimedID = 0
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = ? AND cancel_requested = 0
	         ORDER BY priority DESC, created_at, id LIMIT 1`,
			StatusQueued,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next queued: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, dispatched_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusDispatched, timestamp, timestamp, id, StatusQueued,
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}

		if err := insertTransitionTx(ctx, tx, id, StatusQueued, StatusDispatched, "claim", "", timestamp); err != nil {
			return err
		}
		claimedID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimedID == 0 {
		return nil, nil
	}
	return s.JobByID(ctx, claimedID)
}

// Transition persists a guarded status change along with the job's mutable
// fields, and appends an audit row in the same transaction. The caller sets
// the desired field values on job before calling; job.Status is updated to
// the target on success. Returns ErrInvalidTransition for edges the state
// machine does not allow and ErrStatusConflict when the stored status no
// longer matches from.
func (s *Store) Transition(ctx context.Context, job *Job, from, to Status, reason, detail string) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	completedAt := job.CompletedAt
	if to.IsTerminal() && completedAt == nil {
		completedAt = &now
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
	         SET status = ?, renderer_handle = ?, asset_ref = ?, failure_reason = ?,
	             error_message = ?, cancel_requested = ?, progress_percent = ?,
	             progress_message = ?, last_poll_at = ?, completed_at = ?, updated_at = ?
	         WHERE id = ? AND status = ?`,
			to,
			nullableString(job.RendererHandle),
			nullableString(job.AssetRef),
			nullableString(job.FailureReason),
			nullableString(job.ErrorMessage),
			boolToInt(job.CancelRequested),
			job.ProgressPercent,
			nullableString(job.ProgressMessage),
			nullableTime(job.LastPollAt),
			nullableTime(completedAt),
			timestamp,
			job.ID,
			from,
		)
		if err != nil {
			return fmt.Errorf("transition job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: job %d expected %s", ErrStatusConflict, job.ID, from)
		}
		return insertTransitionTx(ctx, tx, job.ID, from, to, reason, detail, timestamp)
	})
	if err != nil {
		return err
	}

	job.Status = to
	job.CompletedAt = completedAt
	job.UpdatedAt = now
	return nil
}

// Requeue moves a retry-queued job back to queued, charging one retry and
// clearing the previous attempt's renderer state. Returns the refreshed job.
func (s *Store) Requeue(ctx context.Context, jobID int64, reason string) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
	         SET status = ?, retry_count = retry_count + 1, renderer_handle = NULL,
	             asset_ref = NULL, failure_reason = NULL, error_message = NULL,
	             progress_percent = 0, progress_message = ?, last_poll_at = NULL,
	             dispatched_at = NULL, updated_at = ?
	         WHERE id = ? AND status = ?`,
			StatusQueued,
			nullableString(reason),
			timestamp,
			jobID,
			StatusRetryQueued,
		)
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: job %d expected %s", ErrStatusConflict, jobID, StatusRetryQueued)
		}
		return insertTransitionTx(ctx, tx, jobID, StatusRetryQueued, StatusQueued, "retry", reason, timestamp)
	})
	if err != nil {
		return nil, err
	}

	return s.JobByID(ctx, jobID)
}

// UpdateProgress records the latest poll result for an in-flight render.
// No-op when the job has already left StatusRendering; progress writes must
// never resurrect a job the sweeper or a cancel just moved.
func (s *Store) UpdateProgress(ctx context.Context, jobID int64, percent float64, message string, polledAt time.Time) error {
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE jobs SET progress_percent = ?, progress_message = ?, last_poll_at = ?, updated_at = ?
	     WHERE id = ? AND status = ?`,
		percent,
		nullableString(message),
		polledAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		StatusRendering,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// RequestCancel flags a job for cancellation. Queued and retry-queued jobs
// are aborted by the pipeline immediately; in-flight jobs are interrupted at
// the next poll boundary. Returns false when the job is already terminal or
// does not exist.
func (s *Store) RequestCancel(ctx context.Context, jobID int64) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
	     WHERE id = ? AND status NOT IN (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		StatusCompleted,
		StatusAborted,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CountWaiting returns the number of jobs counted against queue capacity.
func (s *Store) CountWaiting(ctx context.Context) (int, error) {
	var waiting int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE status IN (?, ?)`,
		StatusQueued, StatusRetryQueued,
	).Scan(&waiting)
	if err != nil {
		return 0, fmt.Errorf("count waiting jobs: %w", err)
	}
	return waiting, nil
}
