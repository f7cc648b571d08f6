package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/render"
	"tower/internal/score"
	"tower/internal/stage"
)

// Manager coordinates job processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *jobs.Store
	logger       *slog.Logger
	publisher    *broadcast.Publisher
	pollInterval time.Duration

	sweeper *SweepMonitor

	lanes     map[laneKind]*laneState
	laneOrder []laneKind

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *jobs.Job
}

// StageSet bundles the concrete stage handlers the manager orchestrates.
type StageSet struct {
	Render stage.Handler
	Score  stage.Handler
}

type laneKind string

const (
	laneRender laneKind = "render"
	laneScore  laneKind = "score"
)

// claimFunc hands the next job owned by a lane to a worker, or nil when
// there is nothing to do. Render claims must be atomic because several
// workers race for the same queue; the scoring lane runs a single worker.
type claimFunc func(context.Context) (*jobs.Job, error)

type laneState struct {
	kind    laneKind
	name    string
	handler stage.Handler
	workers int
	claim   claimFunc
	logger  *slog.Logger
}

// NewManager constructs a pipeline manager with the default render and
// scoring stages wired to the configured external services.
func NewManager(cfg *config.Config, store *jobs.Store, logger *slog.Logger, publisher *broadcast.Publisher) (*Manager, error) {
	scorer, err := score.NewScorer(cfg, store, logger, publisher)
	if err != nil {
		return nil, err
	}
	m := NewManagerWithStages(cfg, store, logger, publisher, StageSet{
		Render: render.NewRenderer(cfg, store, logger, publisher),
		Score:  scorer,
	})
	return m, nil
}

// NewManagerWithStages constructs a manager around the provided handlers
// (used in tests to substitute stage behavior).
func NewManagerWithStages(cfg *config.Config, store *jobs.Store, logger *slog.Logger, publisher *broadcast.Publisher, set StageSet) *Manager {
	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		publisher:    publisher,
		pollInterval: time.Duration(cfg.Pipeline.PollInterval) * time.Second,
		sweeper:      NewSweepMonitor(cfg, store, logger),
		lanes:        make(map[laneKind]*laneState),
	}
	m.ConfigureStages(set)
	return m
}

// ConfigureStages registers the stage handlers the pipeline will run. The
// render lane gets one worker per configured slot; scoring runs a single
// worker so reference-set updates for a character stay ordered.
func (m *Manager) ConfigureStages(set StageSet) {
	workers := m.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}

	lanes := make(map[laneKind]*laneState)
	order := make([]laneKind, 0, 2)

	if set.Render != nil {
		lanes[laneRender] = &laneState{
			kind:    laneRender,
			name:    string(laneRender),
			handler: set.Render,
			workers: workers,
			claim:   m.claimNextQueued,
		}
		order = append(order, laneRender)
	}
	if set.Score != nil {
		lanes[laneScore] = &laneState{
			kind:    laneScore,
			name:    string(laneScore),
			handler: set.Score,
			workers: 1,
			claim:   m.claimNextScoring,
		}
		order = append(order, laneScore)
	}

	m.mu.Lock()
	m.lanes = lanes
	m.laneOrder = order
	m.mu.Unlock()
}

func (m *Manager) laneLogger(lane *laneState) *slog.Logger {
	return m.logger.With(logging.String(logging.FieldLane, lane.name))
}
