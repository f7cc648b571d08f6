package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/pipeline"
	"tower/internal/services"
	"tower/internal/stage"
	"tower/internal/testsupport"
)

type stubStage struct {
	name        string
	executeHook func(context.Context, *jobs.Job) error
	executeErr  error
	health      stage.Health

	mu         sync.Mutex
	executions int
}

func newStubStage(name string) *stubStage {
	return &stubStage{name: name, health: stage.Healthy(name)}
}

func (s *stubStage) Prepare(context.Context, *jobs.Job) error { return nil }

func (s *stubStage) Execute(ctx context.Context, job *jobs.Job) error {
	s.mu.Lock()
	s.executions++
	s.mu.Unlock()
	if s.executeHook != nil {
		return s.executeHook(ctx, job)
	}
	return s.executeErr
}

func (s *stubStage) HealthCheck(context.Context) stage.Health { return s.health }

func (s *stubStage) executed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions
}

// passthroughRender mimics the real render stage: accept, attach an asset,
// hand off to scoring.
func passthroughRender(store *jobs.Store) *stubStage {
	st := newStubStage("render")
	st.executeHook = func(ctx context.Context, job *jobs.Job) error {
		if err := store.Transition(ctx, job, jobs.StatusDispatched, jobs.StatusRendering, "render_accepted", ""); err != nil {
			return err
		}
		job.AssetRef = "stub://asset"
		job.SetProgress("Render complete", 100)
		return store.Transition(ctx, job, jobs.StatusRendering, jobs.StatusScoring, "render_complete", "")
	}
	return st
}

// passthroughScore mimics the real scoring stage on the passing path.
func passthroughScore(store *jobs.Store) *stubStage {
	st := newStubStage("score")
	st.executeHook = func(ctx context.Context, job *jobs.Job) error {
		if err := store.Transition(ctx, job, jobs.StatusScoring, jobs.StatusPassed, "thresholds_met", ""); err != nil {
			return err
		}
		return store.Transition(ctx, job, jobs.StatusPassed, jobs.StatusCompleted, "completed", "")
	}
	return st
}

func fastConfig(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Pipeline.PollInterval = 0
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, store *jobs.Store, set pipeline.StageSet) *pipeline.Manager {
	t.Helper()
	publisher := broadcast.NewPublisher(broadcast.NewHub(64), time.Millisecond)
	return pipeline.NewManagerWithStages(cfg, store, logging.NewNop(), publisher, set)
}

func startManager(t *testing.T, mgr *pipeline.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)
}

func waitForStatus(t *testing.T, store *jobs.Store, jobID int64, want jobs.Status) *jobs.Job {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job %d to reach %s", jobID, want)
		default:
		}
		job, err := store.JobByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("JobByID: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func transitionReasons(t *testing.T, store *jobs.Store, jobID int64) []string {
	t.Helper()
	transitions, err := store.TransitionsByJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("TransitionsByJob: %v", err)
	}
	reasons := make([]string, 0, len(transitions))
	for _, tr := range transitions {
		reasons = append(reasons, tr.Reason)
	}
	return reasons
}

func hasReason(reasons []string, want string) bool {
	for _, reason := range reasons {
		if reason == want {
			return true
		}
	}
	return false
}

func TestManagerProcessesJobToCompletion(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: passthroughRender(store),
		Score:  passthroughScore(store),
	})
	startManager(t, mgr)

	job, err := mgr.Submit(context.Background(), testsupport.StillSpec("kai"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForStatus(t, store, job.ID, jobs.StatusCompleted)
	if done.RetryCount != 0 {
		t.Fatalf("expected no retries, got %d", done.RetryCount)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}

	transitions, err := store.TransitionsByJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("TransitionsByJob: %v", err)
	}
	wantPath := []jobs.Status{
		jobs.StatusQueued,
		jobs.StatusDispatched,
		jobs.StatusRendering,
		jobs.StatusScoring,
		jobs.StatusPassed,
		jobs.StatusCompleted,
	}
	if len(transitions) != len(wantPath) {
		t.Fatalf("expected %d transitions, got %d", len(wantPath), len(transitions))
	}
	for i, want := range wantPath {
		if transitions[i].ToStatus != want {
			t.Fatalf("transition %d: expected to_status %s, got %s", i, want, transitions[i].ToStatus)
		}
	}
}

func TestManagerRetriesRenderFailureThenAborts(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	failing := newStubStage("render")
	failing.executeErr = services.Wrap(services.ErrRenderFailure, "render", "submit",
		"Render service rejected the job", nil)

	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: failing,
		Score:  newStubStage("score"),
	})
	startManager(t, mgr)

	job, err := mgr.Submit(context.Background(), testsupport.StillSpec("kai"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForStatus(t, store, job.ID, jobs.StatusAborted)
	if done.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", done.RetryCount)
	}
	if done.FailureReason != services.ReasonRenderFailure {
		t.Fatalf("expected failure reason %q, got %q", services.ReasonRenderFailure, done.FailureReason)
	}
	if got := failing.executed(); got != 2 {
		t.Fatalf("expected 2 render attempts, got %d", got)
	}

	reasons := transitionReasons(t, store, job.ID)
	for _, want := range []string{"retry_scheduled", "retry", "retries_exhausted"} {
		if !hasReason(reasons, want) {
			t.Fatalf("expected transition reason %q in %v", want, reasons)
		}
	}
}

func TestManagerAbortsNonRetryableFailure(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	failing := newStubStage("render")
	failing.executeErr = services.Wrap(services.ErrInvalidSpec, "render", "load params",
		"Job has no stored generation parameters", nil)

	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: failing,
		Score:  newStubStage("score"),
	})
	startManager(t, mgr)

	job, err := mgr.Submit(context.Background(), testsupport.StillSpec("kai"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForStatus(t, store, job.ID, jobs.StatusAborted)
	if done.RetryCount != 0 {
		t.Fatalf("expected no retries for non-retryable failure, got %d", done.RetryCount)
	}
	if got := failing.executed(); got != 1 {
		t.Fatalf("expected a single render attempt, got %d", got)
	}
	reasons := transitionReasons(t, store, job.ID)
	if !hasReason(reasons, "not_retryable") {
		t.Fatalf("expected abort reason not_retryable in %v", reasons)
	}
	if hasReason(reasons, "retry") {
		t.Fatalf("unexpected retry in %v", reasons)
	}
}

func TestManagerLeavesJobAloneOnPersistenceFailure(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	failing := newStubStage("render")
	failing.executeErr = services.Wrap(services.ErrPersistence, "render", "accept",
		"Failed to record render acceptance", nil)

	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: failing,
		Score:  newStubStage("score"),
	})
	startManager(t, mgr)

	job, err := mgr.Submit(context.Background(), testsupport.StillSpec("kai"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for failing.executed() == 0 {
		select {
		case <-deadline:
			t.Fatal("render stage never ran")
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
	time.Sleep(25 * time.Millisecond)

	current, err := store.JobByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if current.Status != jobs.StatusDispatched {
		t.Fatalf("expected job to stay dispatched, got %s", current.Status)
	}
	reasons := transitionReasons(t, store, job.ID)
	if hasReason(reasons, services.ReasonPersistence) {
		t.Fatalf("persistence failure must not reach the failed leg, got %v", reasons)
	}
}

func TestManagerRestartRequeuesInFlightJob(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	blocking := newStubStage("render")
	blocking.executeHook = func(ctx context.Context, job *jobs.Job) error {
		<-ctx.Done()
		return services.Wrap(services.ErrTransient, "render", "poll",
			"Render polling interrupted by shutdown", ctx.Err())
	}

	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: blocking,
		Score:  newStubStage("score"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, err := mgr.Submit(ctx, testsupport.StillSpec("kai"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, store, job.ID, jobs.StatusDispatched)
	mgr.Stop()

	stopped, err := store.JobByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if stopped.Status != jobs.StatusDispatched {
		t.Fatalf("expected in-flight job to keep its status across shutdown, got %s", stopped.Status)
	}

	// A new manager requeues the stranded job on startup without charging
	// its retry budget.
	restarted := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: blocking,
		Score:  newStubStage("score"),
	})
	startManager(t, restarted)

	deadline := time.After(10 * time.Second)
	for {
		reasons := transitionReasons(t, store, job.ID)
		if hasReason(reasons, "daemon_restart") {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected daemon_restart transition, got %v", reasons)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	current, err := store.JobByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if current.RetryCount != 0 {
		t.Fatalf("restart recovery must not charge retries, got %d", current.RetryCount)
	}
}

func TestCancelAbortsWaitingJob(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: newStubStage("render"),
		Score:  newStubStage("score"),
	})

	job := testsupport.MustCreateJob(t, store, testsupport.StillSpec("kai"))

	canceled, err := mgr.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.Status != jobs.StatusAborted {
		t.Fatalf("expected aborted, got %s", canceled.Status)
	}
	if canceled.FailureReason != jobs.CancelReason {
		t.Fatalf("expected failure reason %q, got %q", jobs.CancelReason, canceled.FailureReason)
	}
	reasons := transitionReasons(t, store, job.ID)
	if !hasReason(reasons, jobs.CancelReason) {
		t.Fatalf("expected canceled transition in %v", reasons)
	}

	if _, err := mgr.Cancel(context.Background(), job.ID); !errors.Is(err, jobs.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict canceling a terminal job, got %v", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: newStubStage("render"),
		Score:  newStubStage("score"),
	})

	if _, err := mgr.Cancel(context.Background(), 4242); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitRejectsInvalidSpec(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: newStubStage("render"),
		Score:  newStubStage("score"),
	})

	spec := testsupport.StillSpec("kai")
	spec.Prompt = "  "
	if _, err := mgr.Submit(context.Background(), spec); !errors.Is(err, services.ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}

	job, err := mgr.Submit(context.Background(), testsupport.StillSpec("kai"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != jobs.StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
}

func TestSubmitAppliesBackpressure(t *testing.T) {
	cfg := fastConfig(t, testsupport.WithQueueCapacity(2))
	store := testsupport.MustOpenStore(t, cfg)
	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: newStubStage("render"),
		Score:  newStubStage("score"),
	})

	for i := 0; i < 2; i++ {
		if _, err := mgr.Submit(context.Background(), testsupport.StillSpec("kai")); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if _, err := mgr.Submit(context.Background(), testsupport.StillSpec("kai")); !errors.Is(err, services.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestReproduceClonesRecipe(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: newStubStage("render"),
		Score:  newStubStage("score"),
	})

	spec := testsupport.StillSpec("kai")
	spec.Params.LoraRefs = []string{"lora/kai-identity-v3"}
	original, err := mgr.Submit(context.Background(), spec)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	clone, err := mgr.Reproduce(context.Background(), original.ID, false)
	if err != nil {
		t.Fatalf("Reproduce: %v", err)
	}
	if clone.ID == original.ID {
		t.Fatal("expected a new job id")
	}
	if clone.CharacterID != original.CharacterID || clone.Prompt != original.Prompt {
		t.Fatalf("expected clone to copy identity, got %+v", clone)
	}

	cloneParams, err := store.ParamsByJob(context.Background(), clone.ID)
	if err != nil {
		t.Fatalf("ParamsByJob: %v", err)
	}
	if !cloneParams.Equal(spec.Params) {
		t.Fatalf("expected identical recipe, got %+v want %+v", *cloneParams, spec.Params)
	}

	reseeded, err := mgr.Reproduce(context.Background(), original.ID, true)
	if err != nil {
		t.Fatalf("Reproduce with fresh seed: %v", err)
	}
	reseededParams, err := store.ParamsByJob(context.Background(), reseeded.ID)
	if err != nil {
		t.Fatalf("ParamsByJob: %v", err)
	}
	if reseededParams.Seed == spec.Params.Seed {
		t.Fatal("expected a fresh seed")
	}
	sameButSeed := *reseededParams
	sameButSeed.Seed = spec.Params.Seed
	if !sameButSeed.Equal(spec.Params) {
		t.Fatalf("fresh seed must be the only change, got %+v", *reseededParams)
	}

	if _, err := mgr.Reproduce(context.Background(), 4242, false); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManagerStatusIncludesStageHealth(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	unhealthy := newStubStage("score")
	unhealthy.health = stage.Unhealthy("score", "extractor unreachable")

	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: newStubStage("render"),
		Score:  unhealthy,
	})

	testsupport.MustCreateJob(t, store, testsupport.StillSpec("kai"))

	status := mgr.Status(context.Background())
	if status.Running {
		t.Fatal("expected stopped manager")
	}
	if status.Workers != cfg.Pipeline.Workers {
		t.Fatalf("expected %d workers, got %d", cfg.Pipeline.Workers, status.Workers)
	}
	health, ok := status.StageHealth["score"]
	if !ok {
		t.Fatal("expected score stage health entry")
	}
	if health.Ready {
		t.Fatalf("expected unhealthy score stage, got %+v", health)
	}
	if health.Detail != "extractor unreachable" {
		t.Fatalf("unexpected detail %q", health.Detail)
	}
	if status.QueueStats[jobs.StatusQueued] != 1 {
		t.Fatalf("expected one queued job in stats, got %+v", status.QueueStats)
	}
}

func TestDetailAggregatesJobRecord(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := newTestManager(t, cfg, store, pipeline.StageSet{
		Render: newStubStage("render"),
		Score:  newStubStage("score"),
	})

	job := testsupport.MustCreateJob(t, store, testsupport.StillSpec("kai"))
	detail, err := mgr.Detail(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if detail.Job == nil || detail.Job.ID != job.ID {
		t.Fatalf("expected job %d, got %+v", job.ID, detail.Job)
	}
	if detail.Params == nil || detail.Params.Seed != 42 {
		t.Fatalf("expected stored params, got %+v", detail.Params)
	}
	if len(detail.Transitions) != 1 {
		t.Fatalf("expected the submit transition, got %d", len(detail.Transitions))
	}

	if _, err := mgr.Detail(context.Background(), 4242); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
