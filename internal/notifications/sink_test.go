package notifications_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/notifications"
)

type recordingService struct {
	mu        sync.Mutex
	completed []notifications.JobEvent
	aborted   []notifications.JobEvent
	gates     []notifications.GateEvent
}

func (r *recordingService) NotifyJobCompleted(_ context.Context, job notifications.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, job)
	return nil
}

func (r *recordingService) NotifyJobAborted(_ context.Context, job notifications.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, job)
	return nil
}

func (r *recordingService) NotifyGateDecision(_ context.Context, gate notifications.GateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = append(r.gates, gate)
	return nil
}

func (r *recordingService) NotifyError(context.Context, error, string) error { return nil }
func (r *recordingService) TestNotification(context.Context) error           { return nil }

func (r *recordingService) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.aborted), len(r.gates)
}

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEventSinkForwardsTerminalAndGateEvents(t *testing.T) {
	cfg := config.Default()
	service := &recordingService{}
	sink := notifications.NewEventSink(&cfg, service, nil)

	sink.Consume(broadcast.Event{Type: broadcast.TypeStatus, JobID: 1, Status: "completed", JobType: "still"})
	sink.Consume(broadcast.Event{Type: broadcast.TypeStatus, JobID: 2, Status: "aborted", Reason: "timeout"})
	sink.Consume(broadcast.Event{
		Type: broadcast.TypeGate, ProjectID: "kai", Phase: 1,
		Decision: "block", PassRate: 0.4, Blocking: []string{"style_adherence"},
	})

	waitFor(t, func() bool {
		c, a, g := service.counts()
		return c == 1 && a == 1 && g == 1
	})

	service.mu.Lock()
	defer service.mu.Unlock()
	if service.aborted[0].Reason != "timeout" {
		t.Errorf("aborted reason = %q", service.aborted[0].Reason)
	}
	if len(service.gates[0].BlockingMetrics) != 1 || service.gates[0].BlockingMetrics[0] != "style_adherence" {
		t.Errorf("gate blocking metrics = %v", service.gates[0].BlockingMetrics)
	}
}

func TestEventSinkIgnoresDisabledAndNonTerminalEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.Completed = false
	cfg.Notifications.GateDecisions = false
	service := &recordingService{}
	sink := notifications.NewEventSink(&cfg, service, nil)

	sink.Consume(broadcast.Event{Type: broadcast.TypeStatus, JobID: 1, Status: "completed"})
	sink.Consume(broadcast.Event{Type: broadcast.TypeGate, ProjectID: "kai", Decision: "advance"})
	sink.Consume(broadcast.Event{Type: broadcast.TypeProgress, JobID: 1, ProgressPct: 50})
	sink.Consume(broadcast.Event{Type: broadcast.TypeStatus, JobID: 1, Status: "rendering"})
	sink.Consume(broadcast.Event{Type: broadcast.TypeStatus, JobID: 1, Status: "aborted"})

	waitFor(t, func() bool {
		_, a, _ := service.counts()
		return a == 1
	})
	c, a, g := service.counts()
	if c != 0 || a != 1 || g != 0 {
		t.Fatalf("unexpected deliveries: completed=%d aborted=%d gates=%d", c, a, g)
	}
}
