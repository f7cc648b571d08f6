package comfy_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tower/internal/services/comfy"
)

func TestSubmitReturnsHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req comfy.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Seed != 42 || req.ModelID != "sdxl-base-1.0" {
			t.Fatalf("unexpected payload: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"handle": "run-7f3a"})
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL)
	handle, err := client.Submit(context.Background(), comfy.SubmitRequest{
		JobID:   1,
		JobType: "still",
		Prompt:  "portrait of kai",
		Seed:    42,
		ModelID: "sdxl-base-1.0",
		Sampler: "euler_a",
		Steps:   30,
		Width:   1024,
		Height:  1024,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if handle != "run-7f3a" {
		t.Fatalf("unexpected handle: %q", handle)
	}
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	client := comfy.NewClient("http://127.0.0.1:0")
	if _, err := client.Submit(context.Background(), comfy.SubmitRequest{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestSubmitSurfacesServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("vram exhausted"))
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL)
	_, err := client.Submit(context.Background(), comfy.SubmitRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for http 500")
	}
}

func TestPollParsesProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/run-7f3a" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(comfy.PollResponse{
			State:       comfy.StateRunning,
			ProgressPct: 42.5,
			Message:     "sampling 13/30",
		})
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL)
	status, err := client.Poll(context.Background(), "run-7f3a")
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if status.State != comfy.StateRunning || status.ProgressPct != 42.5 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Handle != "run-7f3a" {
		t.Fatalf("expected handle backfilled, got %q", status.Handle)
	}
	if status.Terminal() {
		t.Fatal("running state must not be terminal")
	}
}

func TestPollUnknownHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL)
	_, err := client.Poll(context.Background(), "run-gone")
	if !errors.Is(err, comfy.ErrHandleNotFound) {
		t.Fatalf("expected ErrHandleNotFound, got %v", err)
	}
}

func TestPollTerminalStates(t *testing.T) {
	completed := comfy.PollResponse{State: comfy.StateCompleted}
	failed := comfy.PollResponse{State: comfy.StateFailed}
	pending := comfy.PollResponse{State: comfy.StatePending}
	if !completed.Terminal() || !failed.Terminal() {
		t.Fatal("expected completed and failed to be terminal")
	}
	if pending.Terminal() {
		t.Fatal("expected pending to not be terminal")
	}
}

func TestInterruptToleratesUnknownHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/run-7f3a/interrupt" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := comfy.NewClient(server.URL)
	if err := client.Interrupt(context.Background(), "run-7f3a"); err != nil {
		t.Fatalf("expected interrupt on unknown handle to succeed, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	if err := comfy.NewClient(healthy.URL).Health(context.Background()); err != nil {
		t.Fatalf("expected healthy check to pass, got %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	if err := comfy.NewClient(down.URL).Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy check to fail")
	}
}

func TestDownloadAssetWritesFile(t *testing.T) {
	payload := []byte("fake-png-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/assets/outputs/kai-42.png" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "kai-42.png")
	client := comfy.NewClient(server.URL)
	if err := client.DownloadAsset(context.Background(), "outputs/kai-42.png", dest); err != nil {
		t.Fatalf("DownloadAsset failed: %v", err)
	}

	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded asset: %v", err)
	}
	if string(written) != string(payload) {
		t.Fatalf("asset content mismatch: %q", written)
	}
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Fatal("expected partial file to be renamed away")
	}
}
