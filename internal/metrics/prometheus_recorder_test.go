package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveTaskDuration("css", 150*time.Millisecond)
	pr.IncTaskResult("css", ResultSuccess)
	pr.IncTaskResult("css", ResultSuccess)
	pr.IncTaskResult("js", ResultFailed)
	pr.IncLintProblems("eslint", "error", 3)
	pr.IncLintProblems("eslint", "warning", 0)
	pr.IncReload("css")
	pr.SetLiveReloadClients(2)

	if got := testutil.ToFloat64(pr.taskResults.WithLabelValues("css", "success")); got != 2 {
		t.Errorf("css successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pr.taskResults.WithLabelValues("js", "failed")); got != 1 {
		t.Errorf("js failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pr.lintProblems.WithLabelValues("eslint", "error")); got != 3 {
		t.Errorf("eslint errors = %v, want 3", got)
	}
	if got := testutil.ToFloat64(pr.liveClients); got != 2 {
		t.Errorf("live clients = %v, want 2", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.IncTaskResult("compile", ResultSuccess)

	rec := httptest.NewRecorder()
	pr.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/__haunt/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `haunt_task_results_total{result="success",task="compile"} 1`) {
		t.Errorf("metrics output missing task result:\n%s", body)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveTaskDuration("css", time.Second)
	pr.IncTaskResult("css", ResultSuccess)
	pr.IncReload("page")
	pr.SetLiveReloadClients(1)

	var r Recorder = NoopRecorder{}
	r.IncLintProblems("stylelint", "warning", 1)
}
