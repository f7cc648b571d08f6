package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"tower/internal/config"
	"tower/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobCompleted(context.Background(), notifications.JobEvent{JobID: 1}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T, sink *[]capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*sink = append(*sink, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	var captured []capturedRequest
	server := newCaptureServer(t, &captured)
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyJobCompleted(ctx, notifications.JobEvent{
		JobID: 12, JobType: "still", CharacterID: "kai", Phase: 1,
	}); err != nil {
		t.Fatalf("NotifyJobCompleted: %v", err)
	}
	if err := svc.NotifyJobAborted(ctx, notifications.JobEvent{
		JobID: 13, JobType: "video", CharacterID: "kai", Reason: "timeout",
	}); err != nil {
		t.Fatalf("NotifyJobAborted: %v", err)
	}
	if err := svc.NotifyGateDecision(ctx, notifications.GateEvent{
		ProjectID: "kai", Phase: 1, Decision: "block", PassRate: 0.6,
		BlockingMetrics: []string{"face_similarity"},
	}); err != nil {
		t.Fatalf("NotifyGateDecision: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("boom"), "render stage"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}

	if len(captured) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(captured))
	}

	completed := captured[0]
	if completed.title != "Tower - Job Complete" {
		t.Errorf("completed title = %q", completed.title)
	}
	if completed.body != "Job 12 (still, phase 1) passed for kai" {
		t.Errorf("completed body = %q", completed.body)
	}
	if completed.tags != "tower,job,completed" {
		t.Errorf("completed tags = %q", completed.tags)
	}

	aborted := captured[1]
	if aborted.priority != "high" {
		t.Errorf("aborted priority = %q", aborted.priority)
	}
	if aborted.body != "Job 13 (video) aborted for kai: timeout" {
		t.Errorf("aborted body = %q", aborted.body)
	}

	gate := captured[2]
	if gate.title != "Tower - Phase Gate Blocked" {
		t.Errorf("gate title = %q", gate.title)
	}
	if gate.body != "kai blocked at phase 1 (pass rate 60%)\nFailing metrics: face_similarity" {
		t.Errorf("gate body = %q", gate.body)
	}

	errNote := captured[3]
	if errNote.body != "Error in render stage: boom" {
		t.Errorf("error body = %q", errNote.body)
	}
}

func TestNtfyServiceSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}
