package stage

import (
	"context"

	"tower/internal/jobs"
	"tower/internal/services"
)

// LoadParams fetches the immutable render recipe for a job. A missing row
// means the job record is unusable, which surfaces as an invalid-spec error
// suitable for stage Execute methods.
func LoadParams(ctx context.Context, store *jobs.Store, job *jobs.Job) (jobs.GenerationParams, error) {
	params, err := store.ParamsByJob(ctx, job.ID)
	if err != nil {
		return jobs.GenerationParams{}, services.Wrap(
			services.ErrPersistence, "stage", "load params",
			"Failed to load generation parameters", err)
	}
	if params == nil {
		return jobs.GenerationParams{}, services.Wrap(
			services.ErrInvalidSpec, "stage", "load params",
			"Job has no stored generation parameters", nil)
	}
	return *params, nil
}
