package services_test

import (
	"context"
	"testing"

	"imgforge/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSection(ctx, "runtime")
	ctx = services.WithStage(ctx, "merge")
	ctx = services.WithRunID(ctx, "run-123")

	if section, ok := services.SectionFromContext(ctx); !ok || section != "runtime" {
		t.Fatalf("unexpected section: %v %v", section, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "merge" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RunIDFromContext(ctx); !ok || rid != "run-123" {
		t.Fatalf("unexpected run id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
