package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/daemon"
	"tower/internal/gate"
	"tower/internal/ipc"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/pipeline"
	"tower/internal/stage"
	"tower/internal/testsupport"
)

type idleStage struct{}

func (idleStage) Prepare(context.Context, *jobs.Job) error { return nil }
func (idleStage) Execute(ctx context.Context, _ *jobs.Job) error {
	<-ctx.Done()
	return ctx.Err()
}
func (idleStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("idle")
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *jobs.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	hub        *broadcast.Hub
	socketPath string
	configPath string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""

	configPath := filepath.Join(cfg.Paths.StateDir, "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	hub := broadcast.NewHub(64)
	publisher := broadcast.NewPublisher(hub, time.Millisecond)
	mgr := pipeline.NewManagerWithStages(cfg, store, logger, publisher, pipeline.StageSet{
		Render: idleStage{},
		Score:  idleStage{},
	})
	evaluator := gate.NewEvaluator(cfg, store, logger)

	d, err := daemon.New(cfg, store, logger, mgr, evaluator, hub, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		server:     srv,
		hub:        hub,
		socketPath: socketPath,
		configPath: configPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nlog_dir = %q\nasset_dir = %q\napi_bind = %q\n",
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.AssetDir,
		cfg.Paths.APIBind,
	)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestCLISubmitListShowCancel(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{
		"submit",
		"--character", "Kai",
		"--project", "demo-short",
		"--prompt", "portrait, studio lighting",
		"--seed", "42",
		"--model", "sdxl-base-1.0",
		"--sampler", "euler_a",
		"--steps", "30",
		"--cfg-scale", "7.5",
		"--width", "1024",
		"--height", "1024",
	}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "Submitted job 1") || !strings.Contains(out, "kai") {
		t.Fatalf("unexpected submit output: %q", out)
	}

	out, _, err = runCLI(t, []string{"list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "kai") || !strings.Contains(out, "Queued") {
		t.Fatalf("list missing job: %q", out)
	}

	out, _, err = runCLI(t, []string{"list", "--status", "completed"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("list --status: %v", err)
	}
	if !strings.Contains(out, "No jobs found") {
		t.Fatalf("expected empty filtered list, got %q", out)
	}

	out, _, err = runCLI(t, []string{"show", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Job 1") || !strings.Contains(out, "sdxl-base-1.0") {
		t.Fatalf("unexpected show output: %q", out)
	}
	if !strings.Contains(out, "History") {
		t.Fatalf("show missing transition history: %q", out)
	}

	out, _, err = runCLI(t, []string{"cancel", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(out, "Job 1 aborted") {
		t.Fatalf("unexpected cancel output: %q", out)
	}
}

func TestCLIReproduceAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	job := testsupport.MustCreateJob(t, env.store, testsupport.StillSpec("mira"))

	out, _, err := runCLI(t, []string{"reproduce", fmt.Sprintf("%d", job.ID), "--fresh-seed"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("reproduce: %v", err)
	}
	if !strings.Contains(out, fmt.Sprintf("Reproduced job %d as job", job.ID)) {
		t.Fatalf("unexpected reproduce output: %q", out)
	}

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Queue Status") {
		t.Fatalf("status missing queue section: %q", out)
	}
	if !strings.Contains(out, "Queued") {
		t.Fatalf("status missing queued count: %q", out)
	}
}

func TestCLIGateRefsAndEvents(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"gate", "demo-short"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if !strings.Contains(out, "No gate evaluations recorded") {
		t.Fatalf("unexpected gate output: %q", out)
	}

	out, _, err = runCLI(t, []string{"refs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("refs: %v", err)
	}
	if !strings.Contains(out, "No characters with stored references") {
		t.Fatalf("unexpected refs output: %q", out)
	}

	env.hub.Publish(broadcast.Event{
		Type:        broadcast.TypeStatus,
		JobID:       7,
		CharacterID: "kai",
		Status:      "queued",
	})

	out, _, err = runCLI(t, []string{"events"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "job #7") || !strings.Contains(out, "Queued") {
		t.Fatalf("unexpected events output: %q", out)
	}

	// Without a cursor the command replays each job's latest state, so the
	// superseded queued event no longer prints.
	env.hub.Publish(broadcast.Event{
		Type:        broadcast.TypeProgress,
		JobID:       7,
		CharacterID: "kai",
		ProgressPct: 40,
	})

	out, _, err = runCLI(t, []string{"events"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "40%") {
		t.Fatalf("expected latest progress event, got %q", out)
	}
	if strings.Contains(out, "Queued") {
		t.Fatalf("expected only the latest state per job, got %q", out)
	}
}

func TestCLIConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, filepath.Join(t.TempDir(), "none.sock"), "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected config init output: %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, filepath.Join(t.TempDir(), "none.sock"), ""); err == nil {
		t.Fatal("expected error for existing config without --overwrite")
	}
}

func TestCLIConfigShowAndVersion(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "state_dir") || !strings.Contains(out, env.cfg.Paths.StateDir) {
		t.Fatalf("unexpected config show output: %q", out)
	}

	out, _, err = runCLI(t, []string{"version"}, filepath.Join(t.TempDir(), "none.sock"), "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected version output")
	}
}
