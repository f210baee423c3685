package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "haunt"

// PrometheusRecorder implements Recorder using Prometheus metrics
type PrometheusRecorder struct {
	registry     *prom.Registry
	taskDuration *prom.HistogramVec
	taskResults  *prom.CounterVec
	lintProblems *prom.CounterVec
	reloads      *prom.CounterVec
	liveClients  prom.Gauge
}

// NewPrometheusRecorder constructs and registers the metrics on reg. A nil
// reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task runs",
			Buckets:   prom.DefBuckets,
		}, []string{"task"}),
		taskResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Task run counts by outcome",
		}, []string{"task", "result"}),
		lintProblems: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "lint_problems_total",
			Help:      "Lint problems reported by linter and severity",
		}, []string{"linter", "severity"}),
		reloads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "livereload_broadcasts_total",
			Help:      "Live reload broadcasts by kind",
		}, []string{"kind"}),
		liveClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "livereload_clients",
			Help:      "Connected live reload clients",
		}),
	}
	reg.MustRegister(pr.taskDuration, pr.taskResults, pr.lintProblems, pr.reloads, pr.liveClients)
	return pr
}

// Registry returns the registry the metrics live in
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.registry }

// Handler serves the recorded metrics
func (p *PrometheusRecorder) Handler() http.Handler {
	return HTTPHandler(p.registry)
}

func (p *PrometheusRecorder) ObserveTaskDuration(task string, d time.Duration) {
	if p == nil {
		return
	}
	p.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(task string, result ResultLabel) {
	if p == nil {
		return
	}
	p.taskResults.WithLabelValues(task, string(result)).Inc()
}

func (p *PrometheusRecorder) IncLintProblems(linter, severity string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.lintProblems.WithLabelValues(linter, severity).Add(float64(n))
}

func (p *PrometheusRecorder) IncReload(kind string) {
	if p == nil {
		return
	}
	p.reloads.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) SetLiveReloadClients(n int) {
	if p == nil {
		return
	}
	p.liveClients.Set(float64(n))
}

// HTTPHandler returns an http.Handler that serves the metrics of reg
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
