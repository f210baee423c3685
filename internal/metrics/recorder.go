// Package metrics records task and dev server activity. Components take a
// Recorder; NoopRecorder is the default and PrometheusRecorder backs the
// dev server's metrics endpoint.
package metrics

import "time"

// ResultLabel enumerates task result categories for counters
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for task runs and live reload
type Recorder interface {
	ObserveTaskDuration(task string, d time.Duration)
	IncTaskResult(task string, result ResultLabel)
	IncLintProblems(linter, severity string, n int)
	IncReload(kind string)
	SetLiveReloadClients(n int)
}

// NoopRecorder is a Recorder that does nothing
type NoopRecorder struct{}

func (NoopRecorder) ObserveTaskDuration(string, time.Duration) {}
func (NoopRecorder) IncTaskResult(string, ResultLabel)         {}
func (NoopRecorder) IncLintProblems(string, string, int)       {}
func (NoopRecorder) IncReload(string)                          {}
func (NoopRecorder) SetLiveReloadClients(int)                  {}
