package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownMetrics = []string{
	"face_similarity",
	"style_adherence",
	"temporal_lpips",
	"motion_smoothness",
	"subject_consistency",
	"scene_continuity",
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateGate(); err != nil {
		return err
	}
	if err := c.validateBroadcast(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServices() error {
	if strings.TrimSpace(c.Renderer.BaseURL) == "" {
		return errors.New("renderer.base_url must be set")
	}
	if strings.TrimSpace(c.Extractor.BaseURL) == "" {
		return errors.New("extractor.base_url must be set")
	}
	return ensurePositiveMap(map[string]int{
		"renderer.request_timeout":  c.Renderer.RequestTimeout,
		"extractor.request_timeout": c.Extractor.RequestTimeout,
	})
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 3 {
		return fmt.Errorf("pipeline.workers must be between 1 and 3, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.PollInterval < 1 || c.Pipeline.PollInterval > 10 {
		return fmt.Errorf("pipeline.poll_interval must be between 1 and 10 seconds, got %d", c.Pipeline.PollInterval)
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"pipeline.queue_capacity":       c.Pipeline.QueueCapacity,
		"pipeline.still_timeout":        c.Pipeline.StillTimeout,
		"pipeline.animation_timeout":    c.Pipeline.AnimationTimeout,
		"pipeline.video_timeout":        c.Pipeline.VideoTimeout,
		"pipeline.stale_sweep_interval": c.Pipeline.StaleSweepInterval,
		"pipeline.error_retry_interval": c.Pipeline.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.Pipeline.StillTimeout <= c.Pipeline.PollInterval {
		return errors.New("pipeline.still_timeout must be greater than pipeline.poll_interval")
	}
	return nil
}

func (c *Config) validateScoring() error {
	switch c.Scoring.ReduceStrategy {
	case "max", "weighted_mean":
	default:
		return fmt.Errorf("scoring.reduce_strategy must be \"max\" or \"weighted_mean\", got %q", c.Scoring.ReduceStrategy)
	}
	if c.Scoring.ReferenceCapacity < 10 || c.Scoring.ReferenceCapacity > 15 {
		return fmt.Errorf("scoring.reference_capacity must be between 10 and 15, got %d", c.Scoring.ReferenceCapacity)
	}
	return nil
}

func (c *Config) validateGate() error {
	if c.Gate.WindowSize < 1 {
		return errors.New("gate.window_size must be >= 1")
	}
	if c.Gate.PassRate <= 0 || c.Gate.PassRate > 1 {
		return errors.New("gate.pass_rate must be in (0, 1]")
	}
	for _, metric := range knownMetrics {
		value, ok := c.Gate.Thresholds[metric]
		if !ok {
			return fmt.Errorf("gate.thresholds.%s must be set", metric)
		}
		if value < 0 || value > 1 {
			return fmt.Errorf("gate.thresholds.%s must be between 0 and 1, got %g", metric, value)
		}
	}
	for metric := range c.Gate.Thresholds {
		known := false
		for _, candidate := range knownMetrics {
			if metric == candidate {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("gate.thresholds contains unknown metric %q", metric)
		}
	}
	return nil
}

func (c *Config) validateBroadcast() error {
	return ensurePositiveMap(map[string]int{
		"broadcast.history_limit":    c.Broadcast.HistoryLimit,
		"broadcast.coalesce_seconds": c.Broadcast.CoalesceSeconds,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
