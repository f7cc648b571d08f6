package api

import (
	"context"

	"tower/internal/jobs"
)

// JobReader abstracts the store interactions needed for API queries.
type JobReader interface {
	List(ctx context.Context, statuses ...jobs.Status) ([]*jobs.Job, error)
	ListByCharacter(ctx context.Context, characterID string) ([]*jobs.Job, error)
	JobByID(ctx context.Context, id int64) (*jobs.Job, error)
	Stats(ctx context.Context) (map[jobs.Status]int, error)
}

// JobService exposes read-only job queries returning API DTOs.
type JobService struct {
	store JobReader
}

// NewJobService constructs a JobService around the provided reader.
func NewJobService(store JobReader) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store}
}

// List returns jobs filtered by status.
func (s *JobService) List(ctx context.Context, statuses ...jobs.Status) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	records, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(records), nil
}

// ListByCharacter returns every job submitted for a character.
func (s *JobService) ListByCharacter(ctx context.Context, characterID string) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	records, err := s.store.ListByCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	return FromJobs(records), nil
}

// Describe fetches a single job.
func (s *JobService) Describe(ctx context.Context, id int64) (*Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.JobByID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Stats returns job counts keyed by status string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}
