package daemon_test

import (
	"context"
	"testing"
	"time"

	"tower/internal/broadcast"
	"tower/internal/daemon"
	"tower/internal/gate"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/pipeline"
	"tower/internal/stage"
	"tower/internal/testsupport"
)

type noopStage struct{}

func (noopStage) Prepare(context.Context, *jobs.Job) error { return nil }
func (noopStage) Execute(context.Context, *jobs.Job) error { return nil }
func (noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("noop")
}

func newTestDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	hub := broadcast.NewHub(64)
	publisher := broadcast.NewPublisher(hub, 0)
	mgr := pipeline.NewManagerWithStages(cfg, store, logger, publisher, pipeline.StageSet{
		Render: noopStage{},
		Score:  noopStage{},
	})
	evaluator := gate.NewEvaluator(cfg, store, logger)
	d, err := daemon.New(cfg, store, logger, mgr, evaluator, hub, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.PID <= 0 {
		t.Fatalf("expected positive pid, got %d", status.PID)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonSubmitAndDetail(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	job, err := d.Submit(ctx, testsupport.StillSpec("kai"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.Status != jobs.StatusQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}

	detail, err := d.JobDetail(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobDetail failed: %v", err)
	}
	if detail.Params == nil || detail.Params.Seed != 42 {
		t.Fatalf("expected stored recipe seed 42, got %+v", detail.Params)
	}
	if len(detail.Transitions) == 0 {
		t.Fatal("expected at least the created->queued transition")
	}

	listed, err := d.ListJobs(ctx, []jobs.Status{jobs.StatusQueued})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != job.ID {
		t.Fatalf("unexpected job list: %+v", listed)
	}
}

func TestDaemonTestNotificationWithoutTopic(t *testing.T) {
	d := newTestDaemon(t)

	sent, message, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if sent {
		t.Fatal("expected notification to be skipped without a topic")
	}
	if message == "" {
		t.Fatal("expected explanatory message")
	}
}
