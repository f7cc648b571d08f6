package stage_test

import (
	"context"
	"errors"
	"testing"

	"tower/internal/jobs"
	"tower/internal/services"
	"tower/internal/stage"
	"tower/internal/testsupport"
)

func TestLoadParamsReturnsStoredRecipe(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.MustCreateJob(t, store, testsupport.StillSpec("kai"))

	params, err := stage.LoadParams(context.Background(), store, job)
	if err != nil {
		t.Fatalf("LoadParams failed: %v", err)
	}
	if params.Seed != 42 {
		t.Fatalf("expected stored seed 42, got %d", params.Seed)
	}
}

func TestLoadParamsMissingRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	phantom := &jobs.Job{ID: 9999}
	_, err := stage.LoadParams(context.Background(), store, phantom)
	if !errors.Is(err, services.ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestHealthConstructors(t *testing.T) {
	healthy := stage.Healthy("render")
	if !healthy.Ready || healthy.Name != "render" {
		t.Fatalf("unexpected healthy record: %+v", healthy)
	}
	unhealthy := stage.Unhealthy("score", "extractor unreachable")
	if unhealthy.Ready || unhealthy.Detail != "extractor unreachable" {
		t.Fatalf("unexpected unhealthy record: %+v", unhealthy)
	}
}
