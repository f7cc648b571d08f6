package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/gate"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/notifications"
	"tower/internal/pipeline"
)

// Daemon coordinates background processing and enforces single-instance
// execution via a lock file in the state directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	pipeline *pipeline.Manager
	gate     *gate.Evaluator
	hub      *broadcast.Hub
	notifier notifications.Service
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Pipeline     pipeline.StatusSummary
	StateDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger, mgr *pipeline.Manager, evaluator *gate.Evaluator, hub *broadcast.Hub, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, logger, and pipeline manager")
	}
	if evaluator == nil {
		evaluator = gate.NewEvaluator(cfg, store, logger)
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		pipeline: mgr,
		gate:     evaluator,
		hub:      hub,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start launches the pipeline manager and acquires the daemon lock.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tower daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.pipeline.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.pipeline.Stop()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("tower daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.pipeline.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("tower daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Pipeline:     d.pipeline.Status(ctx),
		StateDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}

// Hub exposes the broadcast hub so IPC and HTTP surfaces can serve event
// streams. May be nil when the daemon runs without a hub.
func (d *Daemon) Hub() *broadcast.Hub {
	return d.hub
}

// Submit enqueues a new generation job.
func (d *Daemon) Submit(ctx context.Context, spec jobs.JobSpec) (*jobs.Job, error) {
	return d.pipeline.Submit(ctx, spec)
}

// CancelJob requests cancellation of a job.
func (d *Daemon) CancelJob(ctx context.Context, jobID int64) (*jobs.Job, error) {
	return d.pipeline.Cancel(ctx, jobID)
}

// Reproduce resubmits a job's stored recipe as a new job.
func (d *Daemon) Reproduce(ctx context.Context, jobID int64, freshSeed bool) (*jobs.Job, error) {
	return d.pipeline.Reproduce(ctx, jobID, freshSeed)
}

// ListJobs returns jobs filtered by optional statuses.
func (d *Daemon) ListJobs(ctx context.Context, statuses []jobs.Status) ([]*jobs.Job, error) {
	if d.store == nil {
		return nil, errors.New("job store unavailable")
	}
	return d.store.List(ctx, statuses...)
}

// ListJobsByCharacter returns every job submitted for a character.
func (d *Daemon) ListJobsByCharacter(ctx context.Context, characterID string) ([]*jobs.Job, error) {
	if d.store == nil {
		return nil, errors.New("job store unavailable")
	}
	return d.store.ListByCharacter(ctx, jobs.NormalizeCharacterID(characterID))
}

// DefaultMaxRetries exposes the configured retry budget applied to
// submissions that omit one.
func (d *Daemon) DefaultMaxRetries() int {
	return d.cfg.Pipeline.MaxRetries
}

// JobDetail returns a job with its recipe, scores, and transition history.
func (d *Daemon) JobDetail(ctx context.Context, jobID int64) (*pipeline.JobDetail, error) {
	return d.pipeline.Detail(ctx, jobID)
}

// GateSnapshot returns the authoritative latest decision per phase plus the
// retained history for a project. Phases never evaluated are omitted.
func (d *Daemon) GateSnapshot(ctx context.Context, projectID string) ([]jobs.PhaseGateResult, []jobs.PhaseGateResult, error) {
	var latest []jobs.PhaseGateResult
	for _, jobType := range jobs.AllJobTypes() {
		result, err := d.gate.Latest(ctx, projectID, jobType.Phase())
		if err != nil {
			return nil, nil, err
		}
		if result != nil {
			latest = append(latest, *result)
		}
	}
	history, err := d.gate.History(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return latest, history, nil
}

// References returns the curated reference set for a character, optionally
// filtered by modality.
func (d *Daemon) References(ctx context.Context, characterID, modality string) ([]jobs.CharacterReference, error) {
	if d.store == nil {
		return nil, errors.New("job store unavailable")
	}
	return d.store.ReferencesByCharacter(ctx, jobs.NormalizeCharacterID(characterID), modality)
}

// Characters lists the characters with stored references.
func (d *Daemon) Characters(ctx context.Context) ([]string, error) {
	if d.store == nil {
		return nil, errors.New("job store unavailable")
	}
	return d.store.Characters(ctx)
}

// TestNotification triggers a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := d.notifier
	if notifier == nil {
		notifier = notifications.NewService(d.cfg)
	}
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
