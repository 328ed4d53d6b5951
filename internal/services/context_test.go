package services_test

import (
	"context"
	"testing"

	"easel/internal/services"
)

func TestContextHelpersRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, 42)
	ctx = services.WithStage(ctx, "generate")
	ctx = services.WithRequestID(ctx, "req-1")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("job id = %d, %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "generate" {
		t.Fatalf("stage = %q, %v", stage, ok)
	}
	if req, ok := services.RequestIDFromContext(ctx); !ok || req != "req-1" {
		t.Fatalf("request id = %q, %v", req, ok)
	}
}

func TestContextHelpersAbsent(t *testing.T) {
	ctx := context.Background()
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("unexpected job id")
	}
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("unexpected stage")
	}
	if ctx2 := services.WithStage(ctx, ""); ctx2 != ctx {
		t.Fatal("empty stage should not allocate")
	}
}
