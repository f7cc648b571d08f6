// Package embedder wraps the HTTP sidecar that extracts embeddings and
// perceptual measurements from rendered assets.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tower/internal/services"
)

const defaultHTTPTimeout = 60 * time.Second

// Client talks to the extraction sidecar.
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

// NewClient constructs an extractor client.
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

type extractRequest struct {
	AssetRef string `json:"asset_ref"`
	Modality string `json:"modality"`
}

type extractResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

type measureRequest struct {
	AssetRef string `json:"asset_ref"`
	Metric   string `json:"metric"`
}

type measureResponse struct {
	Value float64 `json:"value"`
	Error string  `json:"error"`
}

// Extract returns the embedding vector for an asset in the given modality.
// HTTP 422 means the extractor could not process the asset (no face found,
// corrupt file) and maps to the ExtractionFailed error kind.
func (c *Client) Extract(ctx context.Context, assetRef, modality string) ([]float64, error) {
	if strings.TrimSpace(assetRef) == "" {
		return nil, errors.New("embedder extract: asset ref required")
	}
	var parsed extractResponse
	if err := c.post(ctx, "/api/extract", extractRequest{AssetRef: assetRef, Modality: modality}, "extract", &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("embedder extract: service error: %s", parsed.Error)
	}
	if len(parsed.Embedding) == 0 {
		return nil, errors.New("embedder extract: empty embedding")
	}
	return parsed.Embedding, nil
}

// Measure returns a scalar perceptual measurement for an asset.
func (c *Client) Measure(ctx context.Context, assetRef, metric string) (float64, error) {
	if strings.TrimSpace(assetRef) == "" {
		return 0, errors.New("embedder measure: asset ref required")
	}
	if strings.TrimSpace(metric) == "" {
		return 0, errors.New("embedder measure: metric required")
	}
	var parsed measureResponse
	if err := c.post(ctx, "/api/measure", measureRequest{AssetRef: assetRef, Metric: metric}, "measure", &parsed); err != nil {
		return 0, err
	}
	if parsed.Error != "" {
		return 0, fmt.Errorf("embedder measure: service error: %s", parsed.Error)
	}
	return parsed.Value, nil
}

// Health checks that the extractor answers at all.
func (c *Client) Health(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.baseURL, "/api/health")
	if err != nil {
		return fmt.Errorf("embedder health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("embedder health: request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedder health: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("embedder health: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, operation string, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("embedder %s: encode request: %w", operation, err)
	}
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("embedder %s: build url: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("embedder %s: request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedder %s: request failed: %w", operation, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("embedder %s: read body: %w", operation, err)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		detail := strings.TrimSpace(string(body))
		return services.Wrap(services.ErrExtractionFailed, "embedder", operation, detail, nil)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("embedder %s: http %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("embedder %s: decode response: %w", operation, err)
	}
	return nil
}
