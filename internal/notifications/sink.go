package notifications

import (
	"context"
	"log/slog"
	"time"

	"tower/internal/broadcast"
	"tower/internal/config"
	"tower/internal/jobs"
	"tower/internal/logging"
)

// EventSink bridges the broadcast hub to the notification service. It
// receives every published event and forwards the configured subset as push
// notifications. Delivery runs off the publishing goroutine so a slow ntfy
// endpoint can never stall a render worker's progress updates.
type EventSink struct {
	service Service
	logger  *slog.Logger

	completed bool
	aborted   bool
	gates     bool

	timeout time.Duration
}

// NewEventSink builds a hub sink honoring the notification toggles in cfg.
func NewEventSink(cfg *config.Config, service Service, logger *slog.Logger) *EventSink {
	if service == nil {
		service = noopService{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EventSink{
		service:   service,
		logger:    logging.NewComponentLogger(logger, "notifications"),
		completed: cfg.Notifications.Completed,
		aborted:   cfg.Notifications.Aborted,
		gates:     cfg.Notifications.GateDecisions,
		timeout:   timeout,
	}
}

// Consume implements broadcast.Sink.
func (s *EventSink) Consume(evt broadcast.Event) {
	if s == nil {
		return
	}
	switch {
	case evt.Type == broadcast.TypeStatus && evt.Status == string(jobs.StatusCompleted):
		if !s.completed {
			return
		}
	case evt.Type == broadcast.TypeStatus && evt.Status == string(jobs.StatusAborted):
		if !s.aborted {
			return
		}
	case evt.Type == broadcast.TypeGate:
		if !s.gates {
			return
		}
	default:
		return
	}

	go s.deliver(evt)
}

func (s *EventSink) deliver(evt broadcast.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	switch evt.Type {
	case broadcast.TypeStatus:
		job := JobEvent{
			JobID:       evt.JobID,
			JobType:     evt.JobType,
			CharacterID: evt.CharacterID,
			Phase:       evt.Phase,
			Reason:      evt.Reason,
			Message:     evt.Message,
		}
		if evt.Status == string(jobs.StatusCompleted) {
			err = s.service.NotifyJobCompleted(ctx, job)
		} else {
			err = s.service.NotifyJobAborted(ctx, job)
		}
	case broadcast.TypeGate:
		err = s.service.NotifyGateDecision(ctx, GateEvent{
			ProjectID:       evt.ProjectID,
			Phase:           evt.Phase,
			Decision:        evt.Decision,
			PassRate:        evt.PassRate,
			BlockingMetrics: evt.Blocking,
		})
	}
	if err != nil {
		s.logger.Warn("notification delivery failed",
			logging.Error(err),
			logging.Int64(logging.FieldJobID, evt.JobID),
			logging.String("event", evt.Type),
			logging.String(logging.FieldEventType, "notification_failed"),
		)
	}
}
