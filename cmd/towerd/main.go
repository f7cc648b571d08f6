// Command towerd runs the tower daemon in the foreground without the CLI
// wrapper, for systemd units and container entrypoints.
package main

import (
	"context"
	"flag"
	"log"

	"tower/internal/config"
	"tower/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	socketPath := flag.String("socket", "", "daemon control socket path")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, runOptions(cfg, *socketPath)); err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
