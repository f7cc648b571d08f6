package services_test

import (
	"context"
	"testing"

	"tower/internal/services"
)

func TestContextRoundTrips(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, 42)
	ctx = services.WithStage(ctx, "render")
	ctx = services.WithLane(ctx, "render")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("expected job id 42, got %d ok=%v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "render" {
		t.Fatalf("expected stage render, got %q ok=%v", stage, ok)
	}
	if lane, ok := services.LaneFromContext(ctx); !ok || lane != "render" {
		t.Fatalf("expected lane render, got %q ok=%v", lane, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("expected request id req-123, got %q ok=%v", rid, ok)
	}
}

func TestContextMissingValues(t *testing.T) {
	ctx := context.Background()
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id on empty context")
	}
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage on empty context")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id on empty context")
	}
	// Empty values do not annotate.
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected empty stage to be ignored")
	}
}
