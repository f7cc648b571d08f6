package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	AssetDir string `toml:"asset_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Renderer contains configuration for the GPU render service.
type Renderer struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Extractor contains configuration for the embedding extraction service.
type Extractor struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Pipeline contains configuration for job orchestration timing and limits.
type Pipeline struct {
	Workers            int `toml:"workers"`
	QueueCapacity      int `toml:"queue_capacity"`
	PollInterval       int `toml:"poll_interval"`
	StillTimeout       int `toml:"still_timeout"`
	AnimationTimeout   int `toml:"animation_timeout"`
	VideoTimeout       int `toml:"video_timeout"`
	StaleSweepInterval int `toml:"stale_sweep_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MaxRetries         int `toml:"max_retries"`
}

// Scoring contains configuration for consistency scoring.
type Scoring struct {
	ReduceStrategy    string `toml:"reduce_strategy"`
	ReferenceCapacity int    `toml:"reference_capacity"`
}

// Gate contains configuration for the phase quality gate.
type Gate struct {
	WindowSize int                `toml:"window_size"`
	PassRate   float64            `toml:"pass_rate"`
	Thresholds map[string]float64 `toml:"thresholds"`
}

// Broadcast contains configuration for the progress event hub.
type Broadcast struct {
	HistoryLimit    int `toml:"history_limit"`
	CoalesceSeconds int `toml:"coalesce_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Aborted        bool   `toml:"aborted"`
	GateDecisions  bool   `toml:"gate_decisions"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Tower.
//
// Configuration sections by subsystem:
//   - Paths: directories, API bind address, and API token
//   - Renderer: GPU render service connection
//   - Extractor: embedding extraction service connection
//   - Pipeline: worker slots, queue capacity, polling, and timeouts
//   - Scoring: reduce strategy and reference set capacity
//   - Gate: evaluation window, pass rate, and metric thresholds
//   - Broadcast: progress event history and coalescing
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Renderer      Renderer      `toml:"renderer"`
	Extractor     Extractor     `toml:"extractor"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Scoring       Scoring       `toml:"scoring"`
	Gate          Gate          `toml:"gate"`
	Broadcast     Broadcast     `toml:"broadcast"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tower/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/tower/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tower.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.AssetDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the control socket location inside the state directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "tower.sock")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "tower.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "tower.pid")
}

// TimeoutFor returns the render timeout in seconds for a job type string.
// Unknown types get the longest timeout so a misconfigured client cannot
// starve its own jobs.
func (p Pipeline) TimeoutFor(jobType string) int {
	switch strings.ToLower(strings.TrimSpace(jobType)) {
	case "still":
		return p.StillTimeout
	case "animation_loop":
		return p.AnimationTimeout
	case "video":
		return p.VideoTimeout
	default:
		return p.VideoTimeout
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
