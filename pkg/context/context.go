// Package context provides typed context keys for run tracing
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context keys are unexported pointers so they cannot collide with keys
// defined in other packages.
var (
	runIDKey     = &contextKey{"run-id"}
	taskKey      = &contextKey{"task"}
	operationKey = &contextKey{"operation"}
	startTimeKey = &contextKey{"start-time"}
	triggerKey   = &contextKey{"trigger"}
)

type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "haunt context key " + k.name
}

// WithRunID attaches the identifier of a runner invocation
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID returns the run ID, or "" when the context carries none
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTask records the task currently executing
func WithTask(ctx context.Context, task string) context.Context {
	return context.WithValue(ctx, taskKey, task)
}

// GetTask returns the executing task name
func GetTask(ctx context.Context) string {
	if task, ok := ctx.Value(taskKey).(string); ok {
		return task
	}
	return ""
}

// WithOperation records a finer-grained step inside a task (e.g. "concat")
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

// GetOperation returns the operation name
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok {
		return op
	}
	return ""
}

// WithTrigger records what started a run: "cli", "watch" or "config-reload"
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey, trigger)
}

// GetTrigger returns the trigger, defaulting to "cli"
func GetTrigger(ctx context.Context) string {
	if trigger, ok := ctx.Value(triggerKey).(string); ok {
		return trigger
	}
	return "cli"
}

// WithStartTime records when the traced work began
func WithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

// GetStartTime returns the recorded start time
func GetStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// GetDuration returns the time elapsed since the recorded start, or 0
func GetDuration(ctx context.Context) time.Duration {
	if start, ok := GetStartTime(ctx); ok {
		return time.Since(start)
	}
	return 0
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return "run_" + uuid.New().String()
}

// EnrichContext adds a run ID (if absent) and a start time
func EnrichContext(parent context.Context) context.Context {
	ctx := parent
	if GetRunID(ctx) == "" {
		ctx = WithRunID(ctx, GenerateRunID())
	}
	return WithStartTime(ctx, time.Now())
}

// TracingFields returns the populated tracing values for structured logging
func TracingFields(ctx context.Context) map[string]interface{} {
	fields := make(map[string]interface{})
	if id := GetRunID(ctx); id != "" {
		fields["run_id"] = id
	}
	if task := GetTask(ctx); task != "" {
		fields["task"] = task
	}
	if op := GetOperation(ctx); op != "" {
		fields["operation"] = op
	}
	if d := GetDuration(ctx); d > 0 {
		fields["duration_ms"] = d.Milliseconds()
	}
	return fields
}
