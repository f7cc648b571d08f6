package testsupport

import (
	"path/filepath"
	"testing"

	"tower/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.AssetDir = filepath.Join(base, "assets")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Pipeline.PollInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers sets the render worker slot count on the test config.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = workers
	}
}

// WithQueueCapacity sets the waiting-job capacity on the test config.
func WithQueueCapacity(capacity int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.QueueCapacity = capacity
	}
}

// WithRendererURL points the render client at a test server.
func WithRendererURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Renderer.BaseURL = url
	}
}

// WithExtractorURL points the embedding client at a test server.
func WithExtractorURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extractor.BaseURL = url
	}
}

// WithReduceStrategy sets the scoring reduce strategy on the test config.
func WithReduceStrategy(strategy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scoring.ReduceStrategy = strategy
	}
}

// WithGateWindow sets alternative gate window parameters on the test config.
func WithGateWindow(size int, passRate float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Gate.WindowSize = size
		b.cfg.Gate.PassRate = passRate
	}
}

// WithNtfyTopic enables notifications against a test server topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
