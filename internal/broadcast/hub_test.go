package broadcast_test

import (
	"context"
	"testing"
	"time"

	"tower/internal/broadcast"
)

func TestHubAssignsSequences(t *testing.T) {
	hub := broadcast.NewHub(8)
	hub.Publish(broadcast.Event{Type: broadcast.TypeStatus, JobID: 1})
	hub.Publish(broadcast.Event{Type: broadcast.TypeStatus, JobID: 2})

	events, next := hub.Tail(10)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Sequence != 1 || events[1].Sequence != 2 {
		t.Fatalf("expected sequences 1,2 got %d,%d", events[0].Sequence, events[1].Sequence)
	}
	if next != 2 {
		t.Fatalf("expected next cursor 2, got %d", next)
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("expected timestamp assigned")
	}
}

func TestHubEvictsOldestAtCapacity(t *testing.T) {
	hub := broadcast.NewHub(3)
	for i := 1; i <= 5; i++ {
		hub.Publish(broadcast.Event{Type: broadcast.TypeProgress, JobID: int64(i)})
	}

	events, _ := hub.Tail(10)
	if len(events) != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", len(events))
	}
	if events[0].Sequence != 3 {
		t.Fatalf("expected oldest surviving sequence 3, got %d", events[0].Sequence)
	}
	if hub.FirstSequence() != 3 {
		t.Fatalf("expected first sequence 3, got %d", hub.FirstSequence())
	}
}

func TestHubFetchSinceCursor(t *testing.T) {
	hub := broadcast.NewHub(8)
	for i := 1; i <= 4; i++ {
		hub.Publish(broadcast.Event{Type: broadcast.TypeProgress, JobID: int64(i)})
	}

	events, next, err := hub.Fetch(context.Background(), 2, 10, false)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after cursor 2, got %d", len(events))
	}
	if events[0].Sequence != 3 {
		t.Fatalf("expected first event sequence 3, got %d", events[0].Sequence)
	}
	if next != 4 {
		t.Fatalf("expected next cursor 4, got %d", next)
	}

	empty, _, err := hub.Fetch(context.Background(), 4, 10, false)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no events past cursor, got %d", len(empty))
	}
}

func TestHubFetchWaitWakesOnPublish(t *testing.T) {
	hub := broadcast.NewHub(8)

	done := make(chan []broadcast.Event, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, 10, true)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Publish(broadcast.Event{Type: broadcast.TypeStatus, JobID: 9})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].JobID != 9 {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake on publish")
	}
}

func TestHubFetchWaitHonorsContext(t *testing.T) {
	hub := broadcast.NewHub(8)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := hub.Fetch(ctx, 0, 10, true)
	if err == nil {
		t.Fatal("expected context error from abandoned wait")
	}
}

func TestHubSnapshotKeepsLatestPerJob(t *testing.T) {
	hub := broadcast.NewHub(16)
	hub.Publish(broadcast.Event{Type: broadcast.TypeProgress, JobID: 1, ProgressPct: 10})
	hub.Publish(broadcast.Event{Type: broadcast.TypeProgress, JobID: 2, ProgressPct: 40})
	hub.Publish(broadcast.Event{Type: broadcast.TypeProgress, JobID: 1, ProgressPct: 80})
	hub.Publish(broadcast.Event{Type: broadcast.TypeGate, ProjectID: "kai"})

	snapshot, next := hub.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected one entry per job, got %d", len(snapshot))
	}
	if snapshot[0].JobID != 1 || snapshot[0].ProgressPct != 80 {
		t.Fatalf("expected latest event for job 1, got %+v", snapshot[0])
	}
	if snapshot[1].JobID != 2 {
		t.Fatalf("expected snapshot ordered by job id, got %+v", snapshot[1])
	}
	if next != 4 {
		t.Fatalf("expected cursor 4, got %d", next)
	}
}

type captureSink struct {
	events []broadcast.Event
}

func (s *captureSink) Consume(evt broadcast.Event) {
	s.events = append(s.events, evt)
}

func TestHubSinksReceiveEveryEvent(t *testing.T) {
	hub := broadcast.NewHub(8)
	sink := &captureSink{}
	hub.AddSink(sink)

	hub.Publish(broadcast.Event{Type: broadcast.TypeStatus, JobID: 1})
	hub.Publish(broadcast.Event{Type: broadcast.TypeGate, ProjectID: "kai"})

	if len(sink.events) != 2 {
		t.Fatalf("expected sink to see 2 events, got %d", len(sink.events))
	}
	if sink.events[0].Sequence != 1 {
		t.Fatalf("expected sink to see sequenced events, got %+v", sink.events[0])
	}
}

func TestEventTerminal(t *testing.T) {
	completed := broadcast.Event{Type: broadcast.TypeStatus, Status: "completed"}
	aborted := broadcast.Event{Type: broadcast.TypeStatus, Status: "aborted"}
	running := broadcast.Event{Type: broadcast.TypeStatus, Status: "rendering"}
	progress := broadcast.Event{Type: broadcast.TypeProgress, Status: "completed"}

	if !completed.Terminal() || !aborted.Terminal() {
		t.Fatal("expected terminal status events to report Terminal")
	}
	if running.Terminal() || progress.Terminal() {
		t.Fatal("expected non-terminal events to not report Terminal")
	}
}
