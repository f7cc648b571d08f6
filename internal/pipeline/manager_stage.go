package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/services"
)

func (m *Manager) processJob(ctx context.Context, lane *laneState, job *jobs.Job) error {
	requestID := uuid.NewString()
	jobCtx := services.WithRequestID(services.WithLane(services.WithJobID(ctx, job.ID), lane.name), requestID)
	logger := m.stageLogger(jobCtx, lane, job)

	stageStart := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("job_type", string(job.JobType)),
		logging.String("status", string(job.Status)),
	)

	if err := lane.handler.Prepare(jobCtx, job); err != nil {
		m.resolveFailure(jobCtx, job, err)
		m.setLastError(err)
		return err
	}

	execErr := lane.handler.Execute(jobCtx, job)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) || ctx.Err() != nil {
			// Shutdown, not failure. The job keeps its processing status
			// and the next Start requeues it without charging a retry.
			logger.Debug("stage interrupted by shutdown")
			return context.Canceled
		}
		m.resolveFailure(jobCtx, job, execErr)
		m.setLastError(execErr)
		return execErr
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(job.Status)),
		logging.Float64("percent", job.ProgressPercent),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.setLastJob(job)
	return nil
}

func (m *Manager) stageLogger(ctx context.Context, lane *laneState, job *jobs.Job) *slog.Logger {
	base := lane.logger
	if base == nil {
		base = m.logger
	}
	return logging.WithContext(ctx, base).With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldCharacter, job.CharacterID),
	)
}
