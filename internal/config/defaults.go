package config

const (
	defaultStateDir           = "~/.local/share/tower/state"
	defaultLogDir             = "~/.local/share/tower/logs"
	defaultAssetDir           = "~/.local/share/tower/assets"
	defaultAPIBind            = "127.0.0.1:7787"
	defaultRendererBaseURL    = "http://127.0.0.1:8188"
	defaultRendererTimeout    = 30
	defaultExtractorBaseURL   = "http://127.0.0.1:8190"
	defaultExtractorTimeout   = 60
	defaultWorkers            = 2
	defaultQueueCapacity      = 32
	defaultPollInterval       = 2
	defaultStillTimeout       = 300
	defaultAnimationTimeout   = 900
	defaultVideoTimeout       = 3600
	defaultStaleSweepInterval = 15
	defaultErrorRetryInterval = 10
	defaultMaxRetries         = 1
	defaultReduceStrategy     = "max"
	defaultReferenceCapacity  = 12
	defaultGateWindowSize     = 5
	defaultGatePassRate       = 0.80
	defaultBroadcastHistory   = 256
	defaultCoalesceSeconds    = 2
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// DefaultThresholds returns the per-metric quality thresholds. All values
// are minimum scores in [0, 1]; temporal_lpips is expressed here as a
// maximum raw distance and inverted by the gate when loaded.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		"face_similarity":     0.70,
		"style_adherence":     0.85,
		"temporal_lpips":      0.15,
		"motion_smoothness":   0.95,
		"subject_consistency": 0.90,
		"scene_continuity":    0.85,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			AssetDir: defaultAssetDir,
			APIBind:  defaultAPIBind,
		},
		Renderer: Renderer{
			BaseURL:        defaultRendererBaseURL,
			RequestTimeout: defaultRendererTimeout,
		},
		Extractor: Extractor{
			BaseURL:        defaultExtractorBaseURL,
			RequestTimeout: defaultExtractorTimeout,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			QueueCapacity:      defaultQueueCapacity,
			PollInterval:       defaultPollInterval,
			StillTimeout:       defaultStillTimeout,
			AnimationTimeout:   defaultAnimationTimeout,
			VideoTimeout:       defaultVideoTimeout,
			StaleSweepInterval: defaultStaleSweepInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxRetries:         defaultMaxRetries,
		},
		Scoring: Scoring{
			ReduceStrategy:    defaultReduceStrategy,
			ReferenceCapacity: defaultReferenceCapacity,
		},
		Gate: Gate{
			WindowSize: defaultGateWindowSize,
			PassRate:   defaultGatePassRate,
			Thresholds: DefaultThresholds(),
		},
		Broadcast: Broadcast{
			HistoryLimit:    defaultBroadcastHistory,
			CoalesceSeconds: defaultCoalesceSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Aborted:        true,
			GateDecisions:  true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
