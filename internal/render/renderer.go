package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/services"
	"tower/internal/services/comfy"
	"tower/internal/stage"
)

// Client is the subset of the render service API the stage needs.
type Client interface {
	Submit(ctx context.Context, req comfy.SubmitRequest) (string, error)
	Poll(ctx context.Context, handle string) (comfy.PollResponse, error)
	Interrupt(ctx context.Context, handle string) error
	DownloadAsset(ctx context.Context, assetRef, destPath string) error
	Health(ctx context.Context) error
}

// Renderer drives the external render service for one claimed job: submit,
// poll until terminal, download the asset, hand off to scoring. Each worker
// goroutine runs one Execute at a time.
type Renderer struct {
	store     *jobs.Store
	cfg       *config.Config
	logger    *slog.Logger
	client    Client
	publisher *broadcast.Publisher
	sampler   *logging.ProgressSampler

	pollInterval time.Duration
	staleAfter   func(jobs.JobType) time.Duration
}

// NewRenderer constructs the render handler using default dependencies.
func NewRenderer(cfg *config.Config, store *jobs.Store, logger *slog.Logger, publisher *broadcast.Publisher) *Renderer {
	client := comfy.NewClient(cfg.Renderer.BaseURL,
		comfy.WithTimeout(time.Duration(cfg.Renderer.RequestTimeout)*time.Second))
	return NewRendererWithClient(cfg, store, logger, publisher, client)
}

// NewRendererWithClient allows injecting the render service client (used in tests).
func NewRendererWithClient(cfg *config.Config, store *jobs.Store, logger *slog.Logger, publisher *broadcast.Publisher, client Client) *Renderer {
	stageLogger := logging.NewComponentLogger(logger, "render")
	return &Renderer{
		store:        store,
		cfg:          cfg,
		logger:       stageLogger,
		client:       client,
		publisher:    publisher,
		sampler:      logging.NewProgressSampler(5),
		pollInterval: time.Duration(cfg.Pipeline.PollInterval) * time.Second,
		staleAfter: func(jobType jobs.JobType) time.Duration {
			return time.Duration(cfg.Pipeline.TimeoutFor(string(jobType))) * time.Second
		},
	}
}

func (r *Renderer) Prepare(ctx context.Context, job *jobs.Job) error {
	logger := logging.WithContext(ctx, r.logger)
	job.SetProgress("Submitting render", 0)
	job.ErrorMessage = ""
	logger.Info("starting render dispatch",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("job_type", string(job.JobType)),
		logging.String(logging.FieldCharacter, job.CharacterID),
	)
	return nil
}

func (r *Renderer) Execute(ctx context.Context, job *jobs.Job) error {
	logger := logging.WithContext(ctx, r.logger)

	params, err := stage.LoadParams(ctx, r.store, job)
	if err != nil {
		return err
	}

	handle, err := r.client.Submit(ctx, buildSubmitRequest(job, params))
	if err != nil {
		return services.Wrap(services.ErrRenderFailure, "render", "submit",
			"Render service rejected the job", err)
	}

	job.RendererHandle = handle
	job.SetProgress("Render accepted", 0)
	if err := r.store.Transition(ctx, job, jobs.StatusDispatched, jobs.StatusRendering, "render_accepted", handle); err != nil {
		if interruptErr := r.client.Interrupt(ctx, handle); interruptErr != nil {
			logger.Warn("failed to interrupt orphaned render", logging.Error(interruptErr))
		}
		return services.Wrap(services.ErrPersistence, "render", "accept",
			"Failed to record render acceptance", err)
	}
	r.publisher.StatusChanged(job, jobs.StatusDispatched, "render_accepted")
	logger.Info("render accepted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("renderer_handle", handle),
	)

	return r.pollUntilDone(ctx, job)
}

func (r *Renderer) pollUntilDone(ctx context.Context, job *jobs.Job) error {
	logger := logging.WithContext(ctx, r.logger)
	timeout := r.staleAfter(job.JobType)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	lastPercent := -1.0
	lastChange := time.Now()

	for {
		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrTransient, "render", "poll",
				"Render polling interrupted by shutdown", ctx.Err())
		case <-ticker.C:
		}

		canceled, err := r.cancelRequested(ctx, job.ID)
		if err != nil {
			logger.Warn("failed to check cancel flag", logging.Error(err))
		} else if canceled {
			return r.abandonCanceled(ctx, job)
		}

		status, err := r.client.Poll(ctx, job.RendererHandle)
		if err != nil {
			if errors.Is(err, comfy.ErrHandleNotFound) {
				return services.Wrap(services.ErrRenderFailure, "render", "poll",
					"Render service no longer knows the job", err)
			}
			logger.Warn("render poll failed", logging.Error(err),
				logging.Int64(logging.FieldJobID, job.ID))
			if time.Since(lastChange) > timeout {
				return r.abandonStale(ctx, job, timeout)
			}
			continue
		}

		if status.ProgressPct != lastPercent {
			lastPercent = status.ProgressPct
			lastChange = time.Now()
		}
		r.applyProgress(ctx, job, status)

		switch status.State {
		case comfy.StateCompleted:
			return r.finishRender(ctx, job, status)
		case comfy.StateFailed:
			message := strings.TrimSpace(status.Error)
			if message == "" {
				message = "Renderer reported failure without detail"
			}
			return services.Wrap(services.ErrRenderFailure, "render", "poll", message, nil)
		}

		if time.Since(lastChange) > timeout {
			return r.abandonStale(ctx, job, timeout)
		}
	}
}

// HealthCheck verifies the render service is reachable.
func (r *Renderer) HealthCheck(ctx context.Context) stage.Health {
	const name = "render"
	if r.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(r.cfg.Paths.AssetDir) == "" {
		return stage.Unhealthy(name, "asset directory not configured")
	}
	if r.client == nil {
		return stage.Unhealthy(name, "render client unavailable")
	}
	if err := r.client.Health(ctx); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("render service unreachable: %v", err))
	}
	return stage.Healthy(name)
}

func (r *Renderer) applyProgress(ctx context.Context, job *jobs.Job, status comfy.PollResponse) {
	logger := logging.WithContext(ctx, r.logger)
	now := time.Now().UTC()
	if err := r.store.UpdateProgress(ctx, job.ID, status.ProgressPct, status.Message, now); err != nil {
		logger.Warn("failed to persist progress", logging.Error(err))
	} else {
		job.SetProgress(status.Message, status.ProgressPct)
		polled := now
		job.LastPollAt = &polled
	}
	r.publisher.Progress(job, status.ProgressPct, status.Message)
	if r.sampler.ShouldLog(job.RendererHandle, status.ProgressPct) {
		logger.Info("render progress",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Float64("percent", status.ProgressPct),
			logging.String("state", status.State),
		)
	}
}

// ownsJob reports whether the stored row is still this worker's attempt:
// rendering, under the same renderer handle.
func (r *Renderer) ownsJob(ctx context.Context, job *jobs.Job) (bool, error) {
	current, err := r.store.JobByID(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, fmt.Errorf("job %d vanished during render", job.ID)
	}
	return current.Status == jobs.StatusRendering && current.RendererHandle == job.RendererHandle, nil
}

func (r *Renderer) cancelRequested(ctx context.Context, jobID int64) (bool, error) {
	current, err := r.store.JobByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, fmt.Errorf("job %d vanished during render", jobID)
	}
	return current.CancelRequested, nil
}

func (r *Renderer) abandonCanceled(ctx context.Context, job *jobs.Job) error {
	logger := logging.WithContext(ctx, r.logger)
	if err := r.client.Interrupt(ctx, job.RendererHandle); err != nil {
		logger.Warn("failed to interrupt canceled render", logging.Error(err))
	}
	job.FailureReason = jobs.CancelReason
	job.SetProgress("Canceled by user", job.ProgressPercent)
	if err := r.store.Transition(ctx, job, jobs.StatusRendering, jobs.StatusAborted, jobs.CancelReason, ""); err != nil {
		return services.Wrap(services.ErrPersistence, "render", "cancel",
			"Failed to record cancellation", err)
	}
	r.publisher.StatusChanged(job, jobs.StatusRendering, jobs.CancelReason)
	logger.Info("render canceled", logging.Int64(logging.FieldJobID, job.ID))
	return nil
}

func (r *Renderer) abandonStale(ctx context.Context, job *jobs.Job, timeout time.Duration) error {
	logger := logging.WithContext(ctx, r.logger)
	if err := r.client.Interrupt(ctx, job.RendererHandle); err != nil {
		logger.Warn("failed to interrupt stale render", logging.Error(err))
	}
	return services.Wrap(services.ErrTimeout, "render", "poll",
		fmt.Sprintf("No render progress for %s", timeout), nil)
}

func (r *Renderer) finishRender(ctx context.Context, job *jobs.Job, status comfy.PollResponse) error {
	logger := logging.WithContext(ctx, r.logger)
	if strings.TrimSpace(status.AssetRef) == "" {
		return services.Wrap(services.ErrRenderFailure, "render", "complete",
			"Renderer finished without producing an asset", nil)
	}

	// The sweep may have requeued this job while our progress writes were
	// failing, and another worker may already be rendering a new attempt
	// under a fresh handle. Confirm the stored row still belongs to this
	// attempt before attaching the asset; otherwise discard it.
	owned, err := r.ownsJob(ctx, job)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "render", "complete",
			"Failed to confirm render ownership", err)
	}
	if !owned {
		logger.Warn("render finished after job was reassigned; discarding asset",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("renderer_handle", job.RendererHandle),
		)
		return nil
	}

	dest := filepath.Join(r.cfg.Paths.AssetDir, strconv.FormatInt(job.ID, 10), filepath.Base(status.AssetRef))
	if err := r.client.DownloadAsset(ctx, status.AssetRef, dest); err != nil {
		return services.Wrap(services.ErrRenderFailure, "render", "download",
			"Failed to download rendered asset", err)
	}

	job.AssetRef = dest
	job.SetProgress("Render complete", 100)
	if err := r.store.Transition(ctx, job, jobs.StatusRendering, jobs.StatusScoring, "render_complete", dest); err != nil {
		return services.Wrap(services.ErrPersistence, "render", "complete",
			"Failed to advance job to scoring", err)
	}
	r.publisher.StatusChanged(job, jobs.StatusRendering, "render_complete")
	logger.Info("render completed",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("asset", dest),
	)
	return nil
}

func buildSubmitRequest(job *jobs.Job, params jobs.GenerationParams) comfy.SubmitRequest {
	return comfy.SubmitRequest{
		JobID:            job.ID,
		JobType:          string(job.JobType),
		Prompt:           job.Prompt,
		Seed:             params.Seed,
		ModelID:          params.ModelID,
		Sampler:          params.Sampler,
		Scheduler:        params.Scheduler,
		Steps:            params.Steps,
		CFGScale:         params.CFGScale,
		Width:            params.Width,
		Height:           params.Height,
		FrameCount:       params.FrameCount,
		LoraRefs:         params.LoraRefs,
		ControlNetRefs:   params.ControlNetRefs,
		WorkflowGraphRef: params.WorkflowGraphRef,
	}
}
