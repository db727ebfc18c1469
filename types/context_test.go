package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithRunID(ctx, "run")
	if got, ok := RunID(ctx); !ok || got != "run" {
		t.Fatalf("RunID mismatch: %v %v", got, ok)
	}

	ctx = WithWorkflowID(ctx, "wf")
	if got, ok := WorkflowID(ctx); !ok || got != "wf" {
		t.Fatalf("WorkflowID mismatch: %v %v", got, ok)
	}

	ctx = WithNodeID(ctx, "n1")
	if got, ok := NodeID(ctx); !ok || got != "n1" {
		t.Fatalf("NodeID mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithRunID(context.Background(), "")
	if _, ok := RunID(ctx); ok {
		t.Fatalf("empty run id must report absent")
	}
	if _, ok := TraceID(context.Background()); ok {
		t.Fatalf("missing trace id must report absent")
	}
}
