package pipeline

import (
	"context"

	"tower/internal/jobs"
	"tower/internal/logging"
	"tower/internal/stage"
)

// StatusSummary represents lightweight pipeline diagnostics.
type StatusSummary struct {
	Running     bool
	Workers     int
	LastError   string
	LastJob     *jobs.Job
	QueueStats  map[jobs.Status]int
	StageHealth map[string]stage.Health
}

// Status returns the latest pipeline information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastJob := m.lastJob
	handlers := make(map[string]stage.Handler, len(m.laneOrder))
	workers := 0
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil || lane.handler == nil {
			continue
		}
		handlers[lane.name] = lane.handler
		if lane.kind == laneRender {
			workers = lane.workers
		}
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(handlers))
	for name, handler := range handlers {
		health[name] = handler.HealthCheck(ctx)
	}

	summary := StatusSummary{Running: running, Workers: workers, QueueStats: stats, StageHealth: health}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		cp := *lastJob
		summary.LastJob = &cp
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *jobs.Job) {
	m.mu.Lock()
	if job != nil {
		cp := *job
		m.lastJob = &cp
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
