package ipc

import (
	"tower/internal/api"
	"tower/internal/broadcast"
)

// StartRequest triggers daemon pipeline startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon pipeline processing.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// Job mirrors the HTTP API job DTO for internal IPC callers.
type Job = api.Job

// StageHealth describes readiness of a pipeline stage.
type StageHealth = api.StageHealth

// StatusResponse represents combined daemon/pipeline status information.
type StatusResponse struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queue_stats"`
	LastError   string         `json:"last_error"`
	LastJob     *Job           `json:"last_job"`
	LockPath    string         `json:"lock_path"`
	StateDBPath string         `json:"state_db_path"`
	StageHealth []StageHealth  `json:"stage_health"`
	PID         int            `json:"pid"`
}

// SubmitRequest enqueues a new generation job.
type SubmitRequest struct {
	Spec api.SubmitRequest `json:"spec"`
}

// SubmitResponse contains the created job.
type SubmitResponse struct {
	Job Job `json:"job"`
}

// JobListRequest filters job listing by status or character.
type JobListRequest struct {
	Statuses    []string `json:"statuses"`
	CharacterID string   `json:"character_id"`
}

// JobListResponse contains job entries.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobDescribeRequest fetches a single job by id.
type JobDescribeRequest struct {
	ID int64 `json:"id"`
}

// JobDescribeResponse contains a job with its recipe, scores, and history.
type JobDescribeResponse struct {
	Job         Job                   `json:"job"`
	Params      *api.GenerationParams `json:"params,omitempty"`
	Scores      []api.Score           `json:"scores,omitempty"`
	Transitions []api.Transition      `json:"transitions,omitempty"`
}

// CancelRequest requests cancellation of a job.
type CancelRequest struct {
	ID int64 `json:"id"`
}

// CancelResponse contains the job as of the cancel request.
type CancelResponse struct {
	Job Job `json:"job"`
}

// ReproduceRequest resubmits a job's stored recipe.
type ReproduceRequest struct {
	ID        int64 `json:"id"`
	FreshSeed bool  `json:"fresh_seed"`
}

// ReproduceResponse contains the cloned job.
type ReproduceResponse struct {
	Job Job `json:"job"`
}

// GateRequest fetches gate decisions for a project.
type GateRequest struct {
	ProjectID string `json:"project_id"`
}

// GateResponse carries the latest decision per phase plus retained history.
type GateResponse struct {
	ProjectID string           `json:"project_id"`
	Latest    []api.GateResult `json:"latest"`
	History   []api.GateResult `json:"history,omitempty"`
}

// ReferencesRequest fetches a character's reference set.
type ReferencesRequest struct {
	CharacterID string `json:"character_id"`
	Modality    string `json:"modality"`
}

// ReferencesResponse contains reference entries without raw vectors.
type ReferencesResponse struct {
	CharacterID string          `json:"character_id"`
	References  []api.Reference `json:"references"`
}

// CharactersRequest lists characters with stored references.
type CharactersRequest struct{}

// CharactersResponse contains character identifiers.
type CharactersResponse struct {
	Characters []string `json:"characters"`
}

// EventsRequest fetches broadcast events based on sequence and follow
// semantics. Snapshot replays the latest event per job first so a subscriber
// joining after ring rotation still sees every job's current state.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	Snapshot   bool   `json:"snapshot"`
	WaitMillis int    `json:"wait_millis"`
}

// EventsResponse returns events and the next sequence cursor.
type EventsResponse struct {
	Events []broadcast.Event `json:"events"`
	Next   uint64            `json:"next"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
