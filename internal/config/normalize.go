package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRenderer()
	c.normalizeExtractor()
	c.normalizePipeline()
	c.normalizeScoring()
	c.normalizeGate()
	c.normalizeBroadcast()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.AssetDir) == "" {
		c.Paths.AssetDir = defaultAssetDir
	}
	if c.Paths.AssetDir, err = expandPath(c.Paths.AssetDir); err != nil {
		return fmt.Errorf("paths.asset_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("TOWER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeRenderer() {
	c.Renderer.BaseURL = strings.TrimSpace(c.Renderer.BaseURL)
	if c.Renderer.BaseURL == "" {
		if value, ok := os.LookupEnv("TOWER_RENDERER_URL"); ok {
			c.Renderer.BaseURL = strings.TrimSpace(value)
		}
	}
	if c.Renderer.BaseURL == "" {
		c.Renderer.BaseURL = defaultRendererBaseURL
	}
	c.Renderer.BaseURL = strings.TrimRight(c.Renderer.BaseURL, "/")
	if c.Renderer.RequestTimeout <= 0 {
		c.Renderer.RequestTimeout = defaultRendererTimeout
	}
}

func (c *Config) normalizeExtractor() {
	c.Extractor.BaseURL = strings.TrimSpace(c.Extractor.BaseURL)
	if c.Extractor.BaseURL == "" {
		if value, ok := os.LookupEnv("TOWER_EXTRACTOR_URL"); ok {
			c.Extractor.BaseURL = strings.TrimSpace(value)
		}
	}
	if c.Extractor.BaseURL == "" {
		c.Extractor.BaseURL = defaultExtractorBaseURL
	}
	c.Extractor.BaseURL = strings.TrimRight(c.Extractor.BaseURL, "/")
	if c.Extractor.RequestTimeout <= 0 {
		c.Extractor.RequestTimeout = defaultExtractorTimeout
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = defaultWorkers
	}
	if c.Pipeline.QueueCapacity == 0 {
		c.Pipeline.QueueCapacity = defaultQueueCapacity
	}
	if c.Pipeline.PollInterval == 0 {
		c.Pipeline.PollInterval = defaultPollInterval
	}
	if c.Pipeline.StillTimeout == 0 {
		c.Pipeline.StillTimeout = defaultStillTimeout
	}
	if c.Pipeline.AnimationTimeout == 0 {
		c.Pipeline.AnimationTimeout = defaultAnimationTimeout
	}
	if c.Pipeline.VideoTimeout == 0 {
		c.Pipeline.VideoTimeout = defaultVideoTimeout
	}
	if c.Pipeline.StaleSweepInterval == 0 {
		c.Pipeline.StaleSweepInterval = defaultStaleSweepInterval
	}
	if c.Pipeline.ErrorRetryInterval == 0 {
		c.Pipeline.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = defaultMaxRetries
	}
}

func (c *Config) normalizeScoring() {
	c.Scoring.ReduceStrategy = strings.ToLower(strings.TrimSpace(c.Scoring.ReduceStrategy))
	if c.Scoring.ReduceStrategy == "" {
		c.Scoring.ReduceStrategy = defaultReduceStrategy
	}
	if c.Scoring.ReferenceCapacity == 0 {
		c.Scoring.ReferenceCapacity = defaultReferenceCapacity
	}
}

func (c *Config) normalizeGate() {
	if c.Gate.WindowSize == 0 {
		c.Gate.WindowSize = defaultGateWindowSize
	}
	if c.Gate.PassRate == 0 {
		c.Gate.PassRate = defaultGatePassRate
	}
	// A partial thresholds table only overrides the metrics it names.
	defaults := DefaultThresholds()
	if c.Gate.Thresholds == nil {
		c.Gate.Thresholds = defaults
		return
	}
	for metric, value := range defaults {
		if _, ok := c.Gate.Thresholds[metric]; !ok {
			c.Gate.Thresholds[metric] = value
		}
	}
}

func (c *Config) normalizeBroadcast() {
	if c.Broadcast.HistoryLimit == 0 {
		c.Broadcast.HistoryLimit = defaultBroadcastHistory
	}
	if c.Broadcast.CoalesceSeconds == 0 {
		c.Broadcast.CoalesceSeconds = defaultCoalesceSeconds
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("TOWER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
