package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/services"
)

// Submit validates a job spec and enqueues it. The queue applies
// backpressure: when the waiting backlog is at capacity the submission is
// rejected with ErrQueueFull rather than accepted and starved.
func (m *Manager) Submit(ctx context.Context, spec jobs.JobSpec) (*jobs.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, services.Wrap(services.ErrInvalidSpec, "pipeline", "submit",
			"Job spec rejected", err)
	}

	job, err := m.store.CreateJob(ctx, spec, m.cfg.Pipeline.QueueCapacity)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueAtCapacity) {
			return nil, services.Wrap(services.ErrQueueFull, "pipeline", "submit",
				fmt.Sprintf("Queue is at capacity (%d waiting jobs)", m.cfg.Pipeline.QueueCapacity), err)
		}
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "submit",
			"Failed to persist job", err)
	}

	m.publisher.StatusChanged(job, jobs.StatusCreated, "submitted")
	m.logger.Info("job submitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("job_type", string(job.JobType)),
		logging.String(logging.FieldCharacter, job.CharacterID),
		logging.String(logging.FieldProject, job.ProjectID),
		logging.Int64("seed", spec.Params.Seed),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return job, nil
}

// Cancel requests cancellation of a job. Waiting jobs abort immediately;
// jobs holding a worker slot abort at the next safe boundary (before
// dispatch, at a poll tick, or before scoring begins), discarding any render
// result. Returns the job as of the cancel request.
func (m *Manager) Cancel(ctx context.Context, jobID int64) (*jobs.Job, error) {
	job, err := m.store.JobByID(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "cancel",
			"Failed to load job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "cancel",
			fmt.Sprintf("No job with id %d", jobID), nil)
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("cancel job %d: already %s: %w", jobID, job.Status, jobs.ErrStatusConflict)
	}

	if _, err := m.store.RequestCancel(ctx, jobID); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "cancel",
			"Failed to record cancel request", err)
	}
	job.CancelRequested = true

	// Jobs not holding a worker slot can abort right away; nothing will
	// claim them once the flag is set.
	switch job.Status {
	case jobs.StatusQueued, jobs.StatusRetryQueued, jobs.StatusFailed:
		from := job.Status
		job.FailureReason = jobs.CancelReason
		job.SetProgress("Canceled before dispatch", job.ProgressPercent)
		if err := m.store.Transition(ctx, job, from, jobs.StatusAborted, jobs.CancelReason, ""); err != nil {
			if errors.Is(err, jobs.ErrStatusConflict) {
				// A worker claimed the job between our read and the
				// transition; the flag aborts it at the next boundary.
				return m.store.JobByID(ctx, jobID)
			}
			return nil, services.Wrap(services.ErrPersistence, "pipeline", "cancel",
				"Failed to abort waiting job", err)
		}
		m.publisher.StatusChanged(job, from, jobs.CancelReason)
		m.logger.Info("job canceled",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("was", string(from)),
			logging.String(logging.FieldEventType, "job_canceled"),
		)
	default:
		m.logger.Info("cancel requested for in-flight job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("status", string(job.Status)),
			logging.String(logging.FieldEventType, "cancel_requested"),
		)
	}
	return job, nil
}

// Reproduce resubmits a finished job with the identical generation recipe.
// When freshSeed is set the clone gets a new random seed instead of the
// original one; every other field is copied verbatim.
func (m *Manager) Reproduce(ctx context.Context, jobID int64, freshSeed bool) (*jobs.Job, error) {
	original, err := m.store.JobByID(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "reproduce",
			"Failed to load job", err)
	}
	if original == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "reproduce",
			fmt.Sprintf("No job with id %d", jobID), nil)
	}
	params, err := m.store.ParamsByJob(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "reproduce",
			"Failed to load generation parameters", err)
	}
	if params == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "reproduce",
			fmt.Sprintf("Job %d has no stored generation parameters", jobID), nil)
	}

	recipe := params.Clone()
	if freshSeed {
		recipe.Seed = rand.Int64()
	}

	clone, err := m.Submit(ctx, jobs.JobSpec{
		JobType:     original.JobType,
		CharacterID: original.CharacterID,
		ProjectID:   original.ProjectID,
		Prompt:      original.Prompt,
		Priority:    original.Priority,
		MaxRetries:  original.MaxRetries,
		Params:      recipe,
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("job reproduced",
		logging.Int64("source_job_id", original.ID),
		logging.Int64(logging.FieldJobID, clone.ID),
		logging.Bool("fresh_seed", freshSeed),
		logging.String(logging.FieldEventType, "job_reproduced"),
	)
	return clone, nil
}

// JobDetail aggregates everything the status surfaces show for one job.
type JobDetail struct {
	Job         *jobs.Job
	Params      *jobs.GenerationParams
	Scores      []jobs.ConsistencyScore
	Transitions []jobs.JobTransition
}

// Detail returns the job with its recipe, recorded scores, and transition
// history.
func (m *Manager) Detail(ctx context.Context, jobID int64) (*JobDetail, error) {
	job, err := m.store.JobByID(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "status",
			"Failed to load job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "status",
			fmt.Sprintf("No job with id %d", jobID), nil)
	}

	params, err := m.store.ParamsByJob(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "status",
			"Failed to load generation parameters", err)
	}
	scores, err := m.store.ScoresByJob(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "status",
			"Failed to load scores", err)
	}
	transitions, err := m.store.TransitionsByJob(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "pipeline", "status",
			"Failed to load transitions", err)
	}

	return &JobDetail{Job: job, Params: params, Scores: scores, Transitions: transitions}, nil
}
