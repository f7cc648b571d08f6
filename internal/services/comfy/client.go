// Package comfy wraps the HTTP API of a ComfyUI-compatible render
// service. Polling is the only liveness signal; the service pushes
// nothing back.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Render states reported by the service.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

const defaultHTTPTimeout = 30 * time.Second

// ErrHandleNotFound is returned when the service no longer knows a render
// handle, typically after a renderer restart.
var ErrHandleNotFound = errors.New("render handle not found")

// Client talks to the render service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient constructs a render service client.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// SubmitRequest is the render recipe sent to the service.
type SubmitRequest struct {
	JobID            int64    `json:"job_id"`
	JobType          string   `json:"job_type"`
	Prompt           string   `json:"prompt"`
	Seed             int64    `json:"seed"`
	ModelID          string   `json:"model_id"`
	Sampler          string   `json:"sampler"`
	Scheduler        string   `json:"scheduler,omitempty"`
	Steps            int      `json:"steps"`
	CFGScale         float64  `json:"cfg_scale"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	FrameCount       int      `json:"frame_count,omitempty"`
	LoraRefs         []string `json:"lora_refs,omitempty"`
	ControlNetRefs   []string `json:"controlnet_refs,omitempty"`
	WorkflowGraphRef string   `json:"workflow_graph_ref,omitempty"`
}

// PollResponse is one progress observation for a submitted render.
type PollResponse struct {
	Handle      string  `json:"handle"`
	State       string  `json:"state"`
	ProgressPct float64 `json:"progress_pct"`
	Message     string  `json:"message"`
	AssetRef    string  `json:"asset_ref"`
	Error       string  `json:"error"`
}

// Terminal reports whether the state admits no further polling.
func (p PollResponse) Terminal() bool {
	return p.State == StateCompleted || p.State == StateFailed
}

type submitResponse struct {
	Handle string `json:"handle"`
	Error  string `json:"error"`
}

// Submit sends a render recipe and returns the service's handle for it.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("comfy submit: prompt required")
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("comfy submit: encode request: %w", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/api/jobs")
	if err != nil {
		return "", fmt.Errorf("comfy submit: build url: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("comfy submit: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("comfy submit: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("comfy submit: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("comfy submit: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed submitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("comfy submit: decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("comfy submit: service error: %s", parsed.Error)
	}
	if strings.TrimSpace(parsed.Handle) == "" {
		return "", errors.New("comfy submit: empty handle")
	}
	return parsed.Handle, nil
}

// Poll fetches the current state of a submitted render.
func (c *Client) Poll(ctx context.Context, handle string) (PollResponse, error) {
	var empty PollResponse
	if strings.TrimSpace(handle) == "" {
		return empty, errors.New("comfy poll: handle required")
	}
	endpoint, err := url.JoinPath(c.baseURL, "/api/jobs", handle)
	if err != nil {
		return empty, fmt.Errorf("comfy poll: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return empty, fmt.Errorf("comfy poll: request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("comfy poll: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("comfy poll: read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return empty, fmt.Errorf("comfy poll: handle %q: %w", handle, ErrHandleNotFound)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, fmt.Errorf("comfy poll: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed PollResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return empty, fmt.Errorf("comfy poll: decode response: %w", err)
	}
	if parsed.Handle == "" {
		parsed.Handle = handle
	}
	return parsed, nil
}

// Interrupt asks the service to stop a running render. Best effort: an
// unknown handle is not an error since the render may have finished.
func (c *Client) Interrupt(ctx context.Context, handle string) error {
	if strings.TrimSpace(handle) == "" {
		return errors.New("comfy interrupt: handle required")
	}
	endpoint, err := url.JoinPath(c.baseURL, "/api/jobs", handle, "interrupt")
	if err != nil {
		return fmt.Errorf("comfy interrupt: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("comfy interrupt: request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy interrupt: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("comfy interrupt: http %d", resp.StatusCode)
	}
	return nil
}

// Health checks that the render service answers at all.
func (c *Client) Health(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.baseURL, "/api/health")
	if err != nil {
		return fmt.Errorf("comfy health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("comfy health: request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy health: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("comfy health: http %d", resp.StatusCode)
	}
	return nil
}

// DownloadAsset streams a completed render's output into destPath. The
// file is written through a temp name and renamed so a partial download
// never looks like a finished asset.
func (c *Client) DownloadAsset(ctx context.Context, assetRef, destPath string) error {
	if strings.TrimSpace(assetRef) == "" {
		return errors.New("comfy download: asset ref required")
	}
	endpoint, err := url.JoinPath(c.baseURL, "/api/assets", assetRef)
	if err != nil {
		return fmt.Errorf("comfy download: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("comfy download: request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy download: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("comfy download: asset %q: %w", assetRef, ErrHandleNotFound)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("comfy download: http %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("comfy download: create asset directory: %w", err)
	}
	tmp := destPath + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("comfy download: create temp file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("comfy download: write asset: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("comfy download: close asset: %w", err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("comfy download: finalize asset: %w", err)
	}
	return nil
}
