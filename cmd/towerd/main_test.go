package main

import (
	"path/filepath"
	"testing"

	"tower/internal/config"
)

func TestRunOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "debug"

	opts := runOptions(&cfg, "")
	if opts.LogLevel != "debug" {
		t.Fatalf("expected log level from config, got %q", opts.LogLevel)
	}
	if opts.SocketPath != "" {
		t.Fatalf("expected empty socket path, got %q", opts.SocketPath)
	}

	socket := filepath.Join(t.TempDir(), "towerd.sock")
	opts = runOptions(&cfg, "  "+socket+"  ")
	if opts.SocketPath != socket {
		t.Fatalf("expected trimmed socket override %q, got %q", socket, opts.SocketPath)
	}

	opts = runOptions(nil, socket)
	if opts.LogLevel != "" {
		t.Fatalf("expected empty log level for nil config, got %q", opts.LogLevel)
	}
}
