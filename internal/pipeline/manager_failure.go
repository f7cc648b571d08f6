package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/services"
)

// Reasons recorded on the failed -> retry_queued / aborted legs.
const (
	reasonRetryScheduled   = "retry_scheduled"
	reasonRetriesExhausted = "retries_exhausted"
	reasonNotRetryable     = "not_retryable"
)

// resolveFailure walks a failed job through the failure legs of the state
// machine: mark it failed, then either schedule a retry or abort it. Each
// leg is its own guarded transition so the audit trail records the full
// path. Persistence errors skip resolution entirely; the job stays at its
// last committed status and the sweep or the next startup recovers it.
func (m *Manager) resolveFailure(ctx context.Context, job *jobs.Job, stageErr error) {
	logger := logging.WithContext(ctx, m.logger).With(logging.Int64(logging.FieldJobID, job.ID))

	if errors.Is(stageErr, services.ErrPersistence) {
		logger.Error("stage failed without persisted state; leaving job at last committed status",
			logging.Error(stageErr),
			logging.Alert("persistence_failure"),
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String(logging.FieldErrorHint, "check state database access"),
		)
		return
	}

	reason := services.FailureReason(stageErr)
	message := failureMessage(stageErr)
	from := job.Status
	job.SetFailed(reason, message)

	if err := m.store.Transition(ctx, job, from, jobs.StatusFailed, reason, message); err != nil {
		m.logResolutionConflict(logger, job, err)
		return
	}
	m.publisher.StatusChanged(job, from, reason)
	logger.Error("stage failed",
		logging.Error(stageErr),
		logging.String("failure_reason", reason),
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldEventType, "stage_failure"),
	)

	if services.RetryableFailure(stageErr) && job.RetryCount < job.MaxRetries {
		m.scheduleRetry(ctx, logger, job, reason)
		return
	}

	abortReason := reasonNotRetryable
	if services.RetryableFailure(stageErr) {
		abortReason = reasonRetriesExhausted
	}
	if err := m.store.Transition(ctx, job, jobs.StatusFailed, jobs.StatusAborted, abortReason, message); err != nil {
		m.logResolutionConflict(logger, job, err)
		return
	}
	m.publisher.StatusChanged(job, jobs.StatusFailed, abortReason)
	logger.Info("job aborted",
		logging.String("abort_reason", abortReason),
		logging.Int("retry_count", job.RetryCount),
		logging.String(logging.FieldEventType, "job_aborted"),
	)
}

// scheduleRetry moves a failed job to retry_queued and immediately back to
// queued with its retry count charged, so the next free render worker picks
// it up without operator involvement.
func (m *Manager) scheduleRetry(ctx context.Context, logger *slog.Logger, job *jobs.Job, reason string) {
	detail := fmt.Sprintf("attempt %d of %d", job.RetryCount+1, job.MaxRetries)
	if err := m.store.Transition(ctx, job, jobs.StatusFailed, jobs.StatusRetryQueued, reasonRetryScheduled, detail); err != nil {
		m.logResolutionConflict(logger, job, err)
		return
	}
	m.publisher.StatusChanged(job, jobs.StatusFailed, reasonRetryScheduled)

	requeued, err := m.store.Requeue(ctx, job.ID, reason)
	if err != nil {
		logger.Error("failed to requeue job for retry",
			logging.Error(err),
			logging.String(logging.FieldEventType, "retry_failed"),
			logging.String(logging.FieldErrorHint, "job is stuck in retry_queued; cancel or restart the daemon"),
		)
		return
	}
	*job = *requeued
	m.publisher.StatusChanged(job, jobs.StatusRetryQueued, "retry")
	logger.Info("job requeued for retry",
		logging.Int("retry_count", job.RetryCount),
		logging.String("failure_reason", reason),
		logging.String(logging.FieldEventType, "job_retry"),
	)
}

func (m *Manager) logResolutionConflict(logger *slog.Logger, job *jobs.Job, err error) {
	if errors.Is(err, context.Canceled) {
		logger.Debug("daemon shutting down, could not resolve stage failure")
		return
	}
	if errors.Is(err, jobs.ErrStatusConflict) {
		logger.Debug("another worker resolved the job first",
			logging.String("status", string(job.Status)),
		)
		return
	}
	logger.Error("failed to persist failure resolution",
		logging.Error(err),
		logging.String(logging.FieldEventType, "resolution_failed"),
	)
	m.setLastError(err)
}

// failureMessage extracts the operator-facing message from a stage error:
// the text after the sentinel prefix, trimmed to the first line.
func failureMessage(stageErr error) string {
	if stageErr == nil {
		return "stage failed without error detail"
	}
	message := strings.TrimSpace(stageErr.Error())
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = strings.TrimSpace(message[:idx])
	}
	if message == "" {
		return "stage failed without error detail"
	}
	return message
}
