package render

import (
	"time"

	"tower/internal/jobs"
)

// SetTimingForTests overrides the poll cadence and staleness window.
func SetTimingForTests(r *Renderer, poll, stale time.Duration) func() {
	prevPoll, prevStale := r.pollInterval, r.staleAfter
	r.pollInterval = poll
	r.staleAfter = func(jobs.JobType) time.Duration { return stale }
	return func() {
		r.pollInterval = prevPoll
		r.staleAfter = prevStale
	}
}
