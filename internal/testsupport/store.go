package testsupport

import (
	"context"
	"testing"

	"tower/internal/config"
	"tower/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// StillSpec returns a valid still-image job spec for a character. Callers
// mutate the returned value for variations.
func StillSpec(characterID string) jobs.JobSpec {
	return jobs.JobSpec{
		JobType:     jobs.TypeStill,
		CharacterID: characterID,
		Prompt:      "portrait, studio lighting",
		MaxRetries:  1,
		Params: jobs.GenerationParams{
			Seed:       42,
			ModelID:    "sdxl-base-1.0",
			Sampler:    "euler_a",
			Scheduler:  "karras",
			Steps:      30,
			CFGScale:   7.5,
			Width:      1024,
			Height:     1024,
			FrameCount: 1,
		},
	}
}

// VideoSpec returns a valid video job spec for a character.
func VideoSpec(characterID string) jobs.JobSpec {
	spec := StillSpec(characterID)
	spec.JobType = jobs.TypeVideo
	spec.Prompt = "walking through rain, tracking shot"
	spec.Params.FrameCount = 48
	return spec
}

// MustCreateJob submits a job spec directly to the store and fails the test
// on error.
func MustCreateJob(t testing.TB, store *jobs.Store, spec jobs.JobSpec) *jobs.Job {
	t.Helper()

	job, err := store.CreateJob(context.Background(), spec, 0)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
