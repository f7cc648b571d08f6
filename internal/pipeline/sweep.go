package pipeline

import (
	"context"
	"log/slog"
	"time"

	"tower/internal/config"
	"tower/internal/jobs"
)

// SweepMonitor finds in-flight jobs whose renderer has gone silent past the
// per-type timeout. Render workers enforce the same timeout from inside the
// poll loop, so the sweep only fires for jobs orphaned by a dead worker; it
// hands them to the normal failure path where the timeout is audited and
// retried once per occurrence.
type SweepMonitor struct {
	store  *jobs.Store
	logger *slog.Logger

	stillTimeout     time.Duration
	animationTimeout time.Duration
	videoTimeout     time.Duration
}

// NewSweepMonitor creates a monitor using the configured per-type timeouts.
func NewSweepMonitor(cfg *config.Config, store *jobs.Store, logger *slog.Logger) *SweepMonitor {
	return &SweepMonitor{
		store:            store,
		logger:           logger,
		stillTimeout:     time.Duration(cfg.Pipeline.StillTimeout) * time.Second,
		animationTimeout: time.Duration(cfg.Pipeline.AnimationTimeout) * time.Second,
		videoTimeout:     time.Duration(cfg.Pipeline.VideoTimeout) * time.Second,
	}
}

// TimeoutFor returns the staleness window for a job type. Unknown types get
// the most generous window.
func (s *SweepMonitor) TimeoutFor(jobType jobs.JobType) time.Duration {
	switch jobType {
	case jobs.TypeStill:
		return s.stillTimeout
	case jobs.TypeAnimationLoop:
		return s.animationTimeout
	default:
		return s.videoTimeout
	}
}

// Stale returns jobs whose last renderer contact predates their own
// per-type timeout. Candidates are fetched against the shortest window and
// re-checked per job, since one query cannot express three cutoffs.
func (s *SweepMonitor) Stale(ctx context.Context) ([]*jobs.Job, error) {
	now := time.Now().UTC()
	candidates, err := s.store.StaleProcessing(ctx, now.Add(-s.minTimeout()))
	if err != nil {
		return nil, err
	}

	var stale []*jobs.Job
	for _, job := range candidates {
		cutoff := now.Add(-s.TimeoutFor(job.JobType))
		switch job.Status {
		case jobs.StatusRendering:
			if job.LastPollAt != nil && job.LastPollAt.Before(cutoff) {
				stale = append(stale, job)
			}
		case jobs.StatusDispatched:
			if job.DispatchedAt != nil && job.DispatchedAt.Before(cutoff) {
				stale = append(stale, job)
			}
		}
	}
	return stale, nil
}

func (s *SweepMonitor) minTimeout() time.Duration {
	min := s.stillTimeout
	if s.animationTimeout < min {
		min = s.animationTimeout
	}
	if s.videoTimeout < min {
		min = s.videoTimeout
	}
	if min <= 0 {
		min = time.Minute
	}
	return min
}
