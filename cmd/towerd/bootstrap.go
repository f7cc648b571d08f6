package main

import (
	"strings"

	"tower/internal/config"
	"tower/internal/daemonrun"
)

func runOptions(cfg *config.Config, socketOverride string) daemonrun.Options {
	opts := daemonrun.Options{}
	if cfg != nil {
		opts.LogLevel = cfg.Logging.Level
	}
	if socket := strings.TrimSpace(socketOverride); socket != "" {
		opts.SocketPath = socket
	}
	return opts
}
