package api

import (
	"slices"
	"time"

	"tower/internal/jobs"
	"tower/internal/pipeline"
)

// FromJob converts a persisted job record to its API representation.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}

	dto := Job{
		ID:              job.ID,
		JobType:         string(job.JobType),
		Phase:           job.Phase,
		Status:          string(job.Status),
		Priority:        job.Priority,
		RetryCount:      job.RetryCount,
		MaxRetries:      job.MaxRetries,
		CharacterID:     job.CharacterID,
		ProjectID:       job.ProjectID,
		Prompt:          job.Prompt,
		RendererHandle:  job.RendererHandle,
		AssetRef:        job.AssetRef,
		FailureReason:   job.FailureReason,
		ErrorMessage:    job.ErrorMessage,
		CancelRequested: job.CancelRequested,
		Progress: JobProgress{
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
		DispatchedAt: formatTimePtr(job.DispatchedAt),
		CompletedAt:  formatTimePtr(job.CompletedAt),
		LastPollAt:   formatTimePtr(job.LastPollAt),
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(records []*jobs.Job) []Job {
	if len(records) == 0 {
		return nil
	}
	out := make([]Job, 0, len(records))
	for _, job := range records {
		out = append(out, FromJob(job))
	}
	return out
}

// FromParams converts a stored render recipe to its API representation.
func FromParams(params *jobs.GenerationParams) *GenerationParams {
	if params == nil {
		return nil
	}
	cp := params.Clone()
	return &GenerationParams{
		Seed:             cp.Seed,
		ModelID:          cp.ModelID,
		Sampler:          cp.Sampler,
		Scheduler:        cp.Scheduler,
		Steps:            cp.Steps,
		CFGScale:         cp.CFGScale,
		Width:            cp.Width,
		Height:           cp.Height,
		FrameCount:       cp.FrameCount,
		LoraRefs:         cp.LoraRefs,
		ControlNetRefs:   cp.ControlNetRefs,
		WorkflowGraphRef: cp.WorkflowGraphRef,
	}
}

// ToParams converts an API recipe payload back to the persisted form.
func ToParams(params GenerationParams) jobs.GenerationParams {
	return jobs.GenerationParams{
		Seed:             params.Seed,
		ModelID:          params.ModelID,
		Sampler:          params.Sampler,
		Scheduler:        params.Scheduler,
		Steps:            params.Steps,
		CFGScale:         params.CFGScale,
		Width:            params.Width,
		Height:           params.Height,
		FrameCount:       params.FrameCount,
		LoraRefs:         slices.Clone(params.LoraRefs),
		ControlNetRefs:   slices.Clone(params.ControlNetRefs),
		WorkflowGraphRef: params.WorkflowGraphRef,
	}
}

// FromScores converts recorded measurements into API DTOs.
func FromScores(scores []jobs.ConsistencyScore) []Score {
	if len(scores) == 0 {
		return nil
	}
	out := make([]Score, 0, len(scores))
	for _, score := range scores {
		out = append(out, Score{
			Metric:           score.Metric,
			Value:            score.Value,
			RawValue:         score.RawValue,
			Threshold:        score.ThresholdUsed,
			Passed:           score.Passed,
			ExtractionFailed: score.ExtractionFailed,
			ReduceStrategy:   score.ReduceStrategy,
			ReferenceCount:   score.ReferenceCount,
			CreatedAt:        formatTime(score.CreatedAt),
		})
	}
	return out
}

// FromTransitions converts audit rows into API DTOs.
func FromTransitions(transitions []jobs.JobTransition) []Transition {
	if len(transitions) == 0 {
		return nil
	}
	out := make([]Transition, 0, len(transitions))
	for _, tr := range transitions {
		out = append(out, Transition{
			FromStatus: string(tr.FromStatus),
			ToStatus:   string(tr.ToStatus),
			Reason:     tr.Reason,
			Detail:     tr.Detail,
			CreatedAt:  formatTime(tr.CreatedAt),
		})
	}
	return out
}

// FromGateResult converts a gate evaluation to its API representation.
func FromGateResult(result *jobs.PhaseGateResult) GateResult {
	if result == nil {
		return GateResult{}
	}
	return GateResult{
		ProjectID:       result.ProjectID,
		Phase:           result.Phase,
		Decision:        result.Decision,
		PassRate:        result.PassRate,
		PassCount:       result.PassCount,
		WindowSize:      result.WindowSize,
		JobsConsidered:  result.JobsConsidered,
		BlockingMetrics: slices.Clone(result.BlockingMetrics),
		EvaluatedAt:     formatTime(result.EvaluatedAt),
	}
}

// FromGateResults converts a slice of gate evaluations.
func FromGateResults(results []jobs.PhaseGateResult) []GateResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]GateResult, 0, len(results))
	for i := range results {
		out = append(out, FromGateResult(&results[i]))
	}
	return out
}

// FromReference converts a character reference, dropping the raw vector.
func FromReference(ref jobs.CharacterReference) Reference {
	return Reference{
		ID:          ref.ID,
		CharacterID: ref.CharacterID,
		Modality:    ref.Modality,
		AssetRef:    ref.AssetRef,
		Quality:     ref.Quality,
		Dimension:   len(ref.Embedding),
		AddedByJob:  ref.AddedByJob,
		CreatedAt:   formatTime(ref.CreatedAt),
	}
}

// FromReferences converts a reference set into API DTOs.
func FromReferences(refs []jobs.CharacterReference) []Reference {
	if len(refs) == 0 {
		return nil
	}
	out := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		out = append(out, FromReference(ref))
	}
	return out
}

// FromStatusSummary converts a pipeline status summary to an API payload.
func FromStatusSummary(summary pipeline.StatusSummary) PipelineStatus {
	healthNames := make([]string, 0, len(summary.StageHealth))
	for name := range summary.StageHealth {
		healthNames = append(healthNames, name)
	}
	slices.Sort(healthNames)

	health := make([]StageHealth, 0, len(healthNames))
	for _, name := range healthNames {
		h := summary.StageHealth[name]
		health = append(health, StageHealth{
			Name:   name,
			Ready:  h.Ready,
			Detail: h.Detail,
		})
	}

	stats := make(map[string]int, len(summary.QueueStats))
	for status, count := range summary.QueueStats {
		stats[string(status)] = count
	}

	status := PipelineStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		QueueStats:  stats,
		StageHealth: health,
	}
	if summary.LastError != "" {
		status.LastError = summary.LastError
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		status.LastJob = &last
	}
	return status
}

// ToJobSpec converts a submission payload into the validated store form.
// Validation happens downstream in the pipeline manager; this is shape
// conversion only.
func ToJobSpec(req SubmitRequest, defaultMaxRetries int) (jobs.JobSpec, bool) {
	jobType, ok := jobs.ParseJobType(req.JobType)
	if !ok {
		return jobs.JobSpec{}, false
	}
	maxRetries := defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	return jobs.JobSpec{
		JobType:     jobType,
		CharacterID: req.CharacterID,
		ProjectID:   req.ProjectID,
		Prompt:      req.Prompt,
		Priority:    req.Priority,
		MaxRetries:  maxRetries,
		Params:      ToParams(req.Params),
	}, true
}

// FromJobDetail converts the manager's aggregate view into a response.
func FromJobDetail(detail *pipeline.JobDetail) JobDetailResponse {
	if detail == nil {
		return JobDetailResponse{}
	}
	return JobDetailResponse{
		Job:         FromJob(detail.Job),
		Params:      FromParams(detail.Params),
		Scores:      FromScores(detail.Scores),
		Transitions: FromTransitions(detail.Transitions),
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}

func formatTimePtr(value *time.Time) string {
	if value == nil {
		return ""
	}
	return formatTime(*value)
}
