package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/services"
)

// Start begins background processing. Jobs stranded in a processing status
// by a previous run are returned to the queue first, without charging their
// retry budget.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	lanes := make([]*laneState, 0, len(m.laneOrder))
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil || lane.handler == nil {
			continue
		}
		lanes = append(lanes, lane)
	}
	if len(lanes) == 0 {
		m.mu.Unlock()
		return errors.New("pipeline stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	workerCount := 0
	for _, lane := range lanes {
		lane.logger = m.laneLogger(lane)
		workerCount += lane.workers
	}
	m.wg.Add(workerCount + 1)
	m.mu.Unlock()

	if reset, err := m.store.ResetStuckProcessing(runCtx); err != nil {
		m.logger.Error("failed to reset stuck jobs",
			logging.Error(err),
			logging.String(logging.FieldEventType, "startup_reset_failed"),
			logging.String(logging.FieldErrorHint, "check state database access"),
		)
	} else if len(reset) > 0 {
		m.logger.Info("requeued jobs stranded by previous run",
			logging.Int("count", len(reset)),
			logging.String(logging.FieldEventType, "startup_reset"),
		)
	}

	for _, lane := range lanes {
		for i := 0; i < lane.workers; i++ {
			go m.runWorker(runCtx, lane, i)
		}
	}
	go m.runSweeper(runCtx)

	return nil
}

// Stop terminates background processing and waits for workers to exit.
// In-flight jobs keep their processing status; the next Start requeues them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether background processing is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) runWorker(ctx context.Context, lane *laneState, workerID int) {
	defer m.wg.Done()
	logger := lane.logger
	if logger == nil {
		logger = m.logger
	}
	if lane.workers > 1 {
		logger = logger.With(logging.Int("worker", workerID))
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := lane.claim(ctx)
		if err != nil {
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.processJob(ctx, lane, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// A persistence failure leaves the job claimable; back off
			// instead of spinning on a broken database.
			if errors.Is(err, services.ErrPersistence) {
				m.waitForRetryWindow(ctx)
			}
		}
	}
}

func (m *Manager) claimNextQueued(ctx context.Context) (*jobs.Job, error) {
	job, err := m.store.ClaimNextQueued(ctx)
	if err != nil || job == nil {
		return job, err
	}
	m.publisher.StatusChanged(job, jobs.StatusQueued, "claimed")
	return job, nil
}

func (m *Manager) claimNextScoring(ctx context.Context) (*jobs.Job, error) {
	items, err := m.store.List(ctx, jobs.StatusScoring)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "claim_failed"),
		logging.String(logging.FieldErrorHint, "check state database access"),
	)
	m.waitForRetryWindow(ctx)
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) waitForRetryWindow(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Pipeline.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) runSweeper(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.Pipeline.StaleSweepInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := m.logger.With(logging.String(logging.FieldComponent, "pipeline-sweep"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stale, err := m.sweeper.Stale(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("stale sweep failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "sweep_failed"),
				logging.String(logging.FieldErrorHint, "check state database access"),
			)
			continue
		}
		for _, job := range stale {
			timeout := m.sweeper.TimeoutFor(job.JobType)
			logger.Warn("sweeping job with silent renderer",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String("status", string(job.Status)),
				logging.Duration("timeout", timeout),
				logging.String(logging.FieldEventType, "sweep_timeout"),
			)
			m.resolveFailure(ctx, job, services.Wrap(services.ErrTimeout, "pipeline", "sweep",
				"No renderer contact for "+timeout.String(), nil))
		}
	}
}
