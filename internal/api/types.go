package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a generation job in a transport-friendly format.
type Job struct {
	ID              int64       `json:"id"`
	JobType         string      `json:"jobType"`
	Phase           int         `json:"phase"`
	Status          string      `json:"status"`
	Priority        int         `json:"priority,omitempty"`
	RetryCount      int         `json:"retryCount"`
	MaxRetries      int         `json:"maxRetries"`
	CharacterID     string      `json:"characterId"`
	ProjectID       string      `json:"projectId"`
	Prompt          string      `json:"prompt,omitempty"`
	RendererHandle  string      `json:"rendererHandle,omitempty"`
	AssetRef        string      `json:"assetRef,omitempty"`
	FailureReason   string      `json:"failureReason,omitempty"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
	CancelRequested bool        `json:"cancelRequested,omitempty"`
	Progress        JobProgress `json:"progress"`
	CreatedAt       string      `json:"createdAt,omitempty"`
	UpdatedAt       string      `json:"updatedAt,omitempty"`
	DispatchedAt    string      `json:"dispatchedAt,omitempty"`
	CompletedAt     string      `json:"completedAt,omitempty"`
	LastPollAt      string      `json:"lastPollAt,omitempty"`
}

// JobProgress captures render progress for a job.
type JobProgress struct {
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// GenerationParams mirrors the persisted render recipe.
type GenerationParams struct {
	Seed             int64    `json:"seed"`
	ModelID          string   `json:"modelId"`
	Sampler          string   `json:"sampler"`
	Scheduler        string   `json:"scheduler,omitempty"`
	Steps            int      `json:"steps"`
	CFGScale         float64  `json:"cfgScale"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	FrameCount       int      `json:"frameCount,omitempty"`
	LoraRefs         []string `json:"loraRefs,omitempty"`
	ControlNetRefs   []string `json:"controlnetRefs,omitempty"`
	WorkflowGraphRef string   `json:"workflowGraphRef,omitempty"`
}

// Score is one recorded consistency measurement.
type Score struct {
	Metric           string  `json:"metric"`
	Value            float64 `json:"value"`
	RawValue         float64 `json:"rawValue"`
	Threshold        float64 `json:"threshold"`
	Passed           bool    `json:"passed"`
	ExtractionFailed bool    `json:"extractionFailed,omitempty"`
	ReduceStrategy   string  `json:"reduceStrategy,omitempty"`
	ReferenceCount   int     `json:"referenceCount,omitempty"`
	CreatedAt        string  `json:"createdAt,omitempty"`
}

// Transition is one audit row from the job state machine.
type Transition struct {
	FromStatus string `json:"fromStatus"`
	ToStatus   string `json:"toStatus"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// GateResult is one phase-gate evaluation.
type GateResult struct {
	ProjectID       string   `json:"projectId"`
	Phase           int      `json:"phase"`
	Decision        string   `json:"decision"`
	PassRate        float64  `json:"passRate"`
	PassCount       int      `json:"passCount"`
	WindowSize      int      `json:"windowSize"`
	JobsConsidered  int      `json:"jobsConsidered"`
	BlockingMetrics []string `json:"blockingMetrics,omitempty"`
	EvaluatedAt     string   `json:"evaluatedAt,omitempty"`
}

// Reference is one curated character reference embedding. The raw vector is
// omitted from transport payloads; only its dimension travels.
type Reference struct {
	ID          int64   `json:"id"`
	CharacterID string  `json:"characterId"`
	Modality    string  `json:"modality"`
	AssetRef    string  `json:"assetRef,omitempty"`
	Quality     float64 `json:"quality"`
	Dimension   int     `json:"dimension"`
	AddedByJob  int64   `json:"addedByJob,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// PipelineStatus summarizes pipeline execution state.
type PipelineStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StateDBPath  string         `json:"stateDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Pipeline     PipelineStatus `json:"pipeline"`
}

// SubmitRequest is the submission payload accepted over HTTP and IPC.
type SubmitRequest struct {
	JobType     string           `json:"jobType"`
	CharacterID string           `json:"characterId"`
	ProjectID   string           `json:"projectId,omitempty"`
	Prompt      string           `json:"prompt"`
	Priority    int              `json:"priority,omitempty"`
	MaxRetries  *int             `json:"maxRetries,omitempty"`
	Params      GenerationParams `json:"params"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobDetailResponse carries a job with its recipe, scores, and history.
type JobDetailResponse struct {
	Job         Job               `json:"job"`
	Params      *GenerationParams `json:"params,omitempty"`
	Scores      []Score           `json:"scores,omitempty"`
	Transitions []Transition      `json:"transitions,omitempty"`
}

// GateResponse carries the authoritative gate result per phase of a project
// plus retained history.
type GateResponse struct {
	ProjectID string       `json:"projectId"`
	Latest    []GateResult `json:"latest"`
	History   []GateResult `json:"history,omitempty"`
}

// ReferenceListResponse wraps a character's reference set.
type ReferenceListResponse struct {
	CharacterID string      `json:"characterId"`
	References  []Reference `json:"references"`
}

// CharacterListResponse lists characters with stored references.
type CharacterListResponse struct {
	Characters []string `json:"characters"`
}
