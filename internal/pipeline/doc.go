// Package pipeline advances generation jobs through the render and scoring
// stages.
//
// The Manager claims queued jobs, feeds them into registered stage handlers
// (render, score) while capturing progress and failure metadata, and resolves
// stage failures through the failed leg of the state machine: retryable
// failures re-enter the queue until the job's retry budget is spent,
// everything else aborts. It also aggregates queue stats, calls stage health
// checks, and owns the submit, cancel, and reproduce operations exposed over
// IPC and HTTP.
//
// The pipeline runs two lanes: render (one worker per configured slot, each
// claiming a queued job and driving it through the external render service)
// and score (a single worker grading completed renders and evaluating the
// phase gate). A sweep monitor backstops the render lane by timing out jobs
// whose worker died without resolving them.
package pipeline
