package jobs

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Status represents the lifecycle of a generation job.
type Status string

const (
	StatusCreated     Status = "created"
	StatusQueued      Status = "queued"
	StatusDispatched  Status = "dispatched"
	StatusRendering   Status = "rendering"
	StatusScoring     Status = "scoring"
	StatusPassed      Status = "passed"
	StatusFailed      Status = "failed"
	StatusRetryQueued Status = "retry_queued"
	StatusCompleted   Status = "completed"
	StatusAborted     Status = "aborted"
)

var allStatuses = []Status{
	StatusCreated,
	StatusQueued,
	StatusDispatched,
	StatusRendering,
	StatusScoring,
	StatusPassed,
	StatusFailed,
	StatusRetryQueued,
	StatusCompleted,
	StatusAborted,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// allowedTransitions is the authoritative edge list of the job state
// machine. Transition refuses any edge not listed here, so a bug in a
// stage cannot move a job backwards or resurrect a terminal one.
var allowedTransitions = map[Status][]Status{
	StatusCreated:     {StatusQueued, StatusAborted},
	StatusQueued:      {StatusDispatched, StatusAborted},
	StatusDispatched:  {StatusRendering, StatusFailed, StatusAborted},
	StatusRendering:   {StatusScoring, StatusFailed, StatusAborted},
	StatusScoring:     {StatusPassed, StatusFailed, StatusAborted},
	StatusPassed:      {StatusCompleted},
	StatusFailed:      {StatusRetryQueued, StatusAborted},
	StatusRetryQueued: {StatusQueued, StatusAborted},
	StatusCompleted:   {},
	StatusAborted:     {},
}

// processingStatuses are the states owned by a worker slot. After a crash the
// render-side states are reset to queued; scoring rows keep their rendered
// asset and are re-claimed by the scoring lane instead.
var processingStatuses = map[Status]struct{}{
	StatusDispatched: {},
	StatusRendering:  {},
	StatusScoring:    {},
}

// waitingStatuses count toward queue capacity for backpressure.
var waitingStatuses = map[Status]struct{}{
	StatusQueued:      {},
	StatusRetryQueued: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// CanTransition reports whether the state machine permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsWaitingStatus reports whether a status counts toward queue capacity.
func IsWaitingStatus(status Status) bool {
	_, ok := waitingStatuses[status]
	return ok
}

// JobType identifies which generation phase a job belongs to.
type JobType string

const (
	TypeStill         JobType = "still"
	TypeAnimationLoop JobType = "animation_loop"
	TypeVideo         JobType = "video"
)

var phaseForType = map[JobType]int{
	TypeStill:         1,
	TypeAnimationLoop: 2,
	TypeVideo:         3,
}

// ParseJobType converts a string into a known JobType.
func ParseJobType(value string) (JobType, bool) {
	normalized := JobType(strings.ToLower(strings.TrimSpace(value)))
	_, ok := phaseForType[normalized]
	return normalized, ok
}

// Phase returns the pipeline phase number for the job type, or 0 when the
// type is unknown.
func (t JobType) Phase() int {
	return phaseForType[t]
}

// AllJobTypes returns job types in pipeline order.
func AllJobTypes() []JobType {
	return []JobType{TypeStill, TypeAnimationLoop, TypeVideo}
}

// Consistency metric identifiers. Scores are normalized so that higher is
// always better; temporal_lpips is stored as 1 minus the raw distance.
const (
	MetricFaceSimilarity     = "face_similarity"
	MetricStyleAdherence     = "style_adherence"
	MetricTemporalLPIPS      = "temporal_lpips"
	MetricMotionSmoothness   = "motion_smoothness"
	MetricSubjectConsistency = "subject_consistency"
	MetricSceneContinuity    = "scene_continuity"
)

var metricsForPhase = map[int][]string{
	1: {MetricFaceSimilarity, MetricStyleAdherence},
	2: {MetricTemporalLPIPS, MetricMotionSmoothness},
	3: {MetricSubjectConsistency, MetricSceneContinuity},
}

// MetricsForPhase returns the metric identifiers evaluated for a phase.
func MetricsForPhase(phase int) []string {
	metrics := metricsForPhase[phase]
	cp := make([]string, len(metrics))
	copy(cp, metrics)
	return cp
}

// Reference modalities for character reference embeddings.
const (
	ModalityFace  = "face"
	ModalityStyle = "style"
)

// Gate decisions recorded after each window evaluation.
const (
	DecisionAdvance = "advance"
	DecisionBlock   = "block"
)

// CancelReason is the failure reason recorded when a user aborts a job.
const CancelReason = "canceled"

// DaemonStopReason is the progress message set when in-flight jobs are
// requeued because the daemon shut down.
const DaemonStopReason = "Daemon stopped"

var characterFolder = cases.Fold()

// NormalizeCharacterID canonicalizes a character identifier so lookups and
// reference-set locking agree on a single spelling. Applies NFC
// normalization and Unicode case folding, then trims surrounding space.
func NormalizeCharacterID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return characterFolder.String(norm.NFC.String(trimmed))
}

// Job represents a generation job persisted in SQLite.
type Job struct {
	ID              int64
	JobType         JobType
	Phase           int
	Status          Status
	Priority        int
	RetryCount      int
	MaxRetries      int
	CharacterID     string
	ProjectID       string
	Prompt          string
	RendererHandle  string
	AssetRef        string
	FailureReason   string
	ErrorMessage    string
	CancelRequested bool
	ProgressPercent float64
	ProgressMessage string
	LastPollAt      *time.Time
	DispatchedAt    *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsProcessing returns true when the job holds a worker slot.
func (j Job) IsProcessing() bool {
	return IsProcessingStatus(j.Status)
}

// SetProgress updates both progress fields together.
func (j *Job) SetProgress(message string, percent float64) {
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job failed with a reason and operator-facing message.
func (j *Job) SetFailed(reason, message string) {
	j.Status = StatusFailed
	j.FailureReason = reason
	j.ErrorMessage = message
	j.ProgressMessage = message
	j.LastPollAt = nil
}

// JobTransition is one audit row in the append-only transition log.
type JobTransition struct {
	ID         int64
	JobID      int64
	FromStatus Status
	ToStatus   Status
	Reason     string
	Detail     string
	CreatedAt  time.Time
}

// ConsistencyScore is one recorded metric measurement for a job. Value is
// normalized so higher is better; RawValue keeps the measurement as the
// extractor reported it. ThresholdUsed and Passed freeze the verdict at
// scoring time so later threshold tuning does not rewrite history.
type ConsistencyScore struct {
	ID               int64
	JobID            int64
	CharacterID      string
	Metric           string
	RawValue         float64
	Value            float64
	ThresholdUsed    float64
	Passed           bool
	ReduceStrategy   string
	ExtractionFailed bool
	ReferenceCount   int
	CreatedAt        time.Time
}

// CharacterReference is a curated embedding used as a comparison anchor
// when scoring a character's renders.
type CharacterReference struct {
	ID          int64
	CharacterID string
	Modality    string
	AssetRef    string
	Quality     float64
	Embedding   []float64
	AddedByJob  int64
	CreatedAt   time.Time
}

// PhaseGateResult records one quality-gate evaluation for a project phase.
type PhaseGateResult struct {
	ID              int64
	ProjectID       string
	Phase           int
	Decision        string
	PassRate        float64
	PassCount       int
	WindowSize      int
	JobsConsidered  int
	BlockingMetrics []string
	EvaluatedAt     time.Time
}

// Advanced reports whether the gate opened the next phase.
func (r PhaseGateResult) Advanced() bool {
	return r.Decision == DecisionAdvance
}

// QueueSummary describes aggregated job counts per key lifecycle states.
type QueueSummary struct {
	Total      int
	Waiting    int
	Processing int
	Failed     int
	Completed  int
	Aborted    int
}
