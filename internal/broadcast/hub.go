// Package broadcast fans pipeline progress out to subscribers through a
// bounded in-memory hub. Delivery is at-least-once: consumers track a
// sequence cursor and may re-read events after a reconnect.
package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Event types published by the pipeline.
const (
	TypeProgress = "progress"
	TypeStatus   = "status"
	TypeScores   = "scores"
	TypeGate     = "gate"
)

// Event is one pipeline notification.
type Event struct {
	Sequence    uint64             `json:"seq"`
	Timestamp   time.Time          `json:"ts"`
	Type        string             `json:"type"`
	JobID       int64              `json:"job_id,omitempty"`
	JobType     string             `json:"job_type,omitempty"`
	CharacterID string             `json:"character_id,omitempty"`
	ProjectID   string             `json:"project_id,omitempty"`
	Phase       int                `json:"phase,omitempty"`
	Status      string             `json:"status,omitempty"`
	FromStatus  string             `json:"from_status,omitempty"`
	ProgressPct float64            `json:"progress_pct,omitempty"`
	Message     string             `json:"message,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Decision    string             `json:"decision,omitempty"`
	PassRate    float64            `json:"pass_rate,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Blocking    []string           `json:"blocking,omitempty"`
}

// Terminal reports whether the event closes out a job.
func (e Event) Terminal() bool {
	return e.Type == TypeStatus && (e.Status == "completed" || e.Status == "aborted")
}

// Sink receives every published event, after buffering.
type Sink interface {
	Consume(Event)
}

// Hub stores recent events and wakes waiters when new ones arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	latest   map[int64]Event
	sinks    []Sink
}

// NewHub constructs a bounded fan-out buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	h := &Hub{
		capacity: capacity,
		latest:   make(map[int64]Event),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// AddSink wires an additional consumer that receives every event.
func (h *Hub) AddSink(sink Sink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish appends an event, assigns its sequence, and wakes waiters.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	if evt.JobID != 0 {
		h.latest[evt.JobID] = evt
	}
	sinks := append([]Sink(nil), h.sinks...)
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Consume(evt)
	}
}

// Fetch returns events with sequence greater than since. When wait is true
// and nothing is pending, Fetch blocks until an event arrives or the
// context ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		events, next := h.pendingLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, next, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
	}
}

// Tail returns the most recent limit events without blocking.
func (h *Hub) Tail(limit int) ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return nil, h.nextSeq
	}
	start := len(h.buffer) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(h.buffer)-start)
	copy(out, h.buffer[start:])
	return out, h.nextSeq
}

// Snapshot returns the latest event per job, ordered by job ID, plus the
// current sequence. A new subscriber replays this before following the
// live feed so there is no gap between connect and first update.
func (h *Hub) Snapshot() ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, 0, len(h.latest))
	for _, evt := range h.latest {
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, h.nextSeq
}

// FirstSequence reports the smallest sequence still buffered.
func (h *Hub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return h.nextSeq
	}
	return h.buffer[0].Sequence
}

func (h *Hub) pendingLocked(since uint64, limit int) ([]Event, uint64) {
	if len(h.buffer) == 0 {
		return nil, h.nextSeq
	}
	startIdx := 0
	for i, evt := range h.buffer {
		if evt.Sequence > since {
			startIdx = i
			break
		}
		if i == len(h.buffer)-1 {
			return nil, h.nextSeq
		}
	}
	end := startIdx + limit
	if end > len(h.buffer) {
		end = len(h.buffer)
	}
	out := make([]Event, end-startIdx)
	copy(out, h.buffer[startIdx:end])
	return out, h.nextSeq
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
