package broadcast

import (
	"sync"
	"time"

	"tower/internal/jobs"
)

// Publisher shapes pipeline activity into hub events. Progress updates are
// coalesced per job to one per interval so a fast poll loop cannot flood
// subscribers; status transitions, scores, and gate decisions always pass.
type Publisher struct {
	hub      *Hub
	interval time.Duration

	mu       sync.Mutex
	lastSent map[int64]time.Time
	now      func() time.Time
}

// NewPublisher wraps a hub with per-job progress coalescing.
func NewPublisher(hub *Hub, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Publisher{
		hub:      hub,
		interval: interval,
		lastSent: make(map[int64]time.Time),
		now:      time.Now,
	}
}

// Hub returns the underlying hub for subscribers.
func (p *Publisher) Hub() *Hub {
	return p.hub
}

// Progress publishes a render progress update unless one for the same job
// went out within the coalescing interval. Completion (>= 100) always
// passes so subscribers never miss the final progress state.
func (p *Publisher) Progress(job *jobs.Job, percent float64, message string) {
	if p == nil || job == nil {
		return
	}
	now := p.now()

	p.mu.Lock()
	last, seen := p.lastSent[job.ID]
	if percent < 100 && seen && now.Sub(last) < p.interval {
		p.mu.Unlock()
		return
	}
	p.lastSent[job.ID] = now
	p.mu.Unlock()

	p.hub.Publish(Event{
		Type:        TypeProgress,
		JobID:       job.ID,
		JobType:     string(job.JobType),
		CharacterID: job.CharacterID,
		ProjectID:   job.ProjectID,
		Phase:       job.Phase,
		Status:      string(job.Status),
		ProgressPct: percent,
		Message:     message,
	})
}

// StatusChanged publishes a lifecycle transition. Terminal transitions also
// drop the job's coalescing state.
func (p *Publisher) StatusChanged(job *jobs.Job, from jobs.Status, reason string) {
	if p == nil || job == nil {
		return
	}
	evt := Event{
		Type:        TypeStatus,
		JobID:       job.ID,
		JobType:     string(job.JobType),
		CharacterID: job.CharacterID,
		ProjectID:   job.ProjectID,
		Phase:       job.Phase,
		Status:      string(job.Status),
		FromStatus:  string(from),
		Reason:      reason,
		Message:     job.ProgressMessage,
	}
	p.hub.Publish(evt)

	if job.Status.IsTerminal() {
		p.mu.Lock()
		delete(p.lastSent, job.ID)
		p.mu.Unlock()
	}
}

// ScoresRecorded publishes the metric values recorded for a job.
func (p *Publisher) ScoresRecorded(job *jobs.Job, scores map[string]jobs.ConsistencyScore) {
	if p == nil || job == nil {
		return
	}
	metrics := make(map[string]float64, len(scores))
	for metric, score := range scores {
		metrics[metric] = score.Value
	}
	p.hub.Publish(Event{
		Type:        TypeScores,
		JobID:       job.ID,
		JobType:     string(job.JobType),
		CharacterID: job.CharacterID,
		ProjectID:   job.ProjectID,
		Phase:       job.Phase,
		Status:      string(job.Status),
		Metrics:     metrics,
	})
}

// GateEvaluated publishes a phase-gate decision.
func (p *Publisher) GateEvaluated(result *jobs.PhaseGateResult) {
	if p == nil || result == nil {
		return
	}
	p.hub.Publish(Event{
		Type:      TypeGate,
		ProjectID: result.ProjectID,
		Phase:     result.Phase,
		Decision:  result.Decision,
		PassRate:  result.PassRate,
		Blocking:  append([]string(nil), result.BlockingMetrics...),
		Message:   blockingSummary(result),
	})
}

func blockingSummary(result *jobs.PhaseGateResult) string {
	if result.Decision != jobs.DecisionBlock || len(result.BlockingMetrics) == 0 {
		return ""
	}
	out := "blocked by"
	for i, metric := range result.BlockingMetrics {
		if i == 0 {
			out += " " + metric
			continue
		}
		out += ", " + metric
	}
	return out
}
