package jobs

import "errors"

// ErrQueueAtCapacity is returned by CreateJob when the waiting backlog has
// reached the configured capacity. Callers surface it as backpressure
// rather than retrying.
var ErrQueueAtCapacity = errors.New("queue at capacity")

// ErrStatusConflict is returned when a guarded transition finds the job in
// a different status than expected. Exactly one racing writer wins; the
// losers see this error and must re-read before deciding anything.
var ErrStatusConflict = errors.New("job status changed concurrently")

// ErrInvalidTransition is returned when a requested status change is not an
// edge of the state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrParamsImmutable is returned on attempts to rewrite a job's generation
// parameters after creation.
var ErrParamsImmutable = errors.New("generation params are immutable")
