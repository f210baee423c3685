package context_test

import (
	"context"
	"strings"
	"testing"
	"time"

	hcontext "github.com/poltergeist/haunt/pkg/context"
)

func TestEnrichContext_KeepsExistingRunID(t *testing.T) {
	ctx := hcontext.WithRunID(context.Background(), "run_fixed")
	ctx = hcontext.EnrichContext(ctx)

	if got := hcontext.GetRunID(ctx); got != "run_fixed" {
		t.Errorf("run id = %q, want run_fixed", got)
	}
	if _, ok := hcontext.GetStartTime(ctx); !ok {
		t.Error("expected start time to be set")
	}
}

func TestEnrichContext_GeneratesRunID(t *testing.T) {
	ctx := hcontext.EnrichContext(context.Background())
	if id := hcontext.GetRunID(ctx); !strings.HasPrefix(id, "run_") {
		t.Errorf("generated run id %q lacks prefix", id)
	}
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	if hcontext.GetRunID(ctx) != "" || hcontext.GetTask(ctx) != "" || hcontext.GetOperation(ctx) != "" {
		t.Error("empty context should yield empty values")
	}
	if hcontext.GetTrigger(ctx) != "cli" {
		t.Error("default trigger should be cli")
	}
	if hcontext.GetDuration(ctx) != 0 {
		t.Error("duration without start time should be zero")
	}
}

func TestTracingFields(t *testing.T) {
	ctx := hcontext.WithTask(context.Background(), "css")
	ctx = hcontext.WithStartTime(ctx, time.Now().Add(-10*time.Millisecond))

	fields := hcontext.TracingFields(ctx)
	if fields["task"] != "css" {
		t.Errorf("task = %v", fields["task"])
	}
	if _, ok := fields["run_id"]; ok {
		t.Error("unset run id should be omitted")
	}
	if _, ok := fields["duration_ms"]; !ok {
		t.Error("expected duration_ms")
	}
}
