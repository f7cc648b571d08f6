package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tower/internal/config"
	"tower/internal/jobs"
)

const userAgent = "Tower/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobCompleted(ctx context.Context, job JobEvent) error
	NotifyJobAborted(ctx context.Context, job JobEvent) error
	NotifyGateDecision(ctx context.Context, gate GateEvent) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// JobEvent carries the fields a terminal-job notification mentions.
type JobEvent struct {
	JobID       int64
	JobType     string
	CharacterID string
	Phase       int
	Reason      string
	Message     string
}

// GateEvent carries the fields a gate-decision notification mentions.
type GateEvent struct {
	ProjectID       string
	Phase           int
	Decision        string
	PassRate        float64
	BlockingMetrics []string
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job JobEvent) error {
	data := payload{
		title:   "Tower - Job Complete",
		message: fmt.Sprintf("Job %d (%s, phase %d) passed for %s", job.JobID, job.JobType, job.Phase, job.CharacterID),
		tags:    []string{"tower", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobAborted(ctx context.Context, job JobEvent) error {
	reason := strings.TrimSpace(job.Reason)
	if reason == "" {
		reason = "unknown"
	}
	message := fmt.Sprintf("Job %d (%s) aborted for %s: %s", job.JobID, job.JobType, job.CharacterID, reason)
	if detail := strings.TrimSpace(job.Message); detail != "" {
		message = fmt.Sprintf("%s\n%s", message, detail)
	}
	data := payload{
		title:    "Tower - Job Aborted",
		message:  message,
		tags:     []string{"tower", "job", "aborted"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyGateDecision(ctx context.Context, gate GateEvent) error {
	if strings.EqualFold(gate.Decision, jobs.DecisionAdvance) {
		data := payload{
			title:   "Tower - Phase Gate Open",
			message: fmt.Sprintf("%s may advance past phase %d (pass rate %.0f%%)", gate.ProjectID, gate.Phase, gate.PassRate*100),
			tags:    []string{"tower", "gate", "advance"},
		}
		return n.send(ctx, data)
	}

	message := fmt.Sprintf("%s blocked at phase %d (pass rate %.0f%%)", gate.ProjectID, gate.Phase, gate.PassRate*100)
	if len(gate.BlockingMetrics) > 0 {
		message = fmt.Sprintf("%s\nFailing metrics: %s", message, strings.Join(gate.BlockingMetrics, ", "))
	}
	data := payload{
		title:   "Tower - Phase Gate Blocked",
		message: message,
		tags:    []string{"tower", "gate", "blocked"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" in ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Tower - Error",
		message:  builder.String(),
		tags:     []string{"tower", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Tower - Test",
		message:  "Notification system test",
		tags:     []string{"tower", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, JobEvent) error { return nil }
func (noopService) NotifyJobAborted(context.Context, JobEvent) error   { return nil }
func (noopService) NotifyGateDecision(context.Context, GateEvent) error {
	return nil
}
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error           { return nil }
