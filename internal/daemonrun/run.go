// Package daemonrun wires daemon components together and owns the daemon
// process run loop.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/daemon"
	"tower/internal/gate"
	"tower/internal/ipc"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/notifications"
	"tower/internal/pipeline"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	SocketPath  string
	Development bool
}

// Run starts the tower daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("tower-%s.log", runID))
	loggerOpts := logging.Options{
		Level:            opts.LogLevel,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	}
	logger, err := logging.New(loggerOpts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update tower.log link: %v\n", err)
	}
	logger.Info("tower daemon starting",
		logging.String(logging.FieldEventType, "daemon_boot"),
		logging.String("run_id", runID),
		logging.Bool("renderer_configured", strings.TrimSpace(cfg.Renderer.BaseURL) != ""),
		logging.Bool("extractor_configured", strings.TrimSpace(cfg.Extractor.BaseURL) != ""),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)

	if err := writePIDFile(cfg.PIDPath()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDPath())

	store, err := jobs.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	hub := broadcast.NewHub(cfg.Broadcast.HistoryLimit)
	publisher := broadcast.NewPublisher(hub, time.Duration(cfg.Broadcast.CoalesceSeconds)*time.Second)
	notifier := notifications.NewService(cfg)
	hub.AddSink(notifications.NewEventSink(cfg, notifier, logger))

	manager, err := pipeline.NewManager(cfg, store, logger, publisher)
	if err != nil {
		return fmt.Errorf("create pipeline manager: %w", err)
	}
	evaluator := gate.NewEvaluator(cfg, store, logger)

	d, err := daemon.New(cfg, store, logger, manager, evaluator, hub, notifier)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and state database access"),
			logging.String(logging.FieldImpact, "daemon may not process jobs"),
		)
	}

	<-signalCtx.Done()
	logger.Info("tower daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "tower.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
