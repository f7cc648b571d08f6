package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSpec      = errors.New("invalid job spec")
	ErrQueueFull        = errors.New("queue full")
	ErrRenderFailure    = errors.New("render failure")
	ErrTimeout          = errors.New("timeout")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrThresholdNotMet  = errors.New("threshold not met")
	ErrPersistence      = errors.New("persistence error")
	ErrNotFound         = errors.New("not found")
	ErrConfiguration    = errors.New("configuration error")
	ErrTransient        = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Reason codes persisted on failed jobs. Stable strings; they appear in the
// transition audit trail and in broadcast events.
const (
	ReasonRenderFailure    = "render_failure"
	ReasonTimeout          = "timeout"
	ReasonExtractionFailed = "extraction_failed"
	ReasonThresholdNotMet  = "threshold_not_met"
	ReasonPersistence      = "persistence"
	ReasonInvalidSpec      = "invalid_spec"
	ReasonQueueFull        = "queue_full"
	ReasonNotFound         = "not_found"
	ReasonConfiguration    = "configuration"
	ReasonCanceled         = "canceled"
	ReasonTransient        = "transient"
)

// FailureReason maps a stage error to the reason code the pipeline persists on
// the failed leg of the state machine.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrRenderFailure):
		return ReasonRenderFailure
	case errors.Is(err, ErrExtractionFailed):
		return ReasonExtractionFailed
	case errors.Is(err, ErrThresholdNotMet):
		return ReasonThresholdNotMet
	case errors.Is(err, ErrPersistence):
		return ReasonPersistence
	case errors.Is(err, ErrInvalidSpec):
		return ReasonInvalidSpec
	case errors.Is(err, ErrQueueFull):
		return ReasonQueueFull
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrConfiguration):
		return ReasonConfiguration
	default:
		return ReasonTransient
	}
}

// RetryableFailure reports whether a failed job should re-enter the queue
// (subject to its retry budget) rather than abort outright. Spec and
// configuration problems never retry; rendering, timeout, and scoring
// outcomes do.
func RetryableFailure(err error) bool {
	switch FailureReason(err) {
	case ReasonRenderFailure, ReasonTimeout, ReasonThresholdNotMet, ReasonExtractionFailed, ReasonTransient:
		return true
	default:
		return false
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
