package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isoflow/internal/controller"
	"isoflow/internal/flow"
	"isoflow/internal/runner"
)

func sampleResult() controller.Result {
	start := time.Now().Add(-10 * time.Second)
	return controller.Result{
		RunID:      "r1",
		StartedAt:  start,
		FinishedAt: start.Add(10 * time.Second),
		Order:      []string{"ISOCH", "STRESS"},
		Status: map[string]controller.FlowStatus{
			"ISOCH":  {Role: flow.Measurement, State: runner.Completed, Reports: 10, Bytes: 1000, Elapsed: 10 * time.Second},
			"STRESS": {Role: flow.Stress, State: runner.Failed, Err: errors.New("boom"), Elapsed: time.Second},
		},
	}
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun(sampleResult())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runs.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flows.WithLabelValues("ISOCH", "Measurement", "Completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flows.WithLabelValues("STRESS", "Stress", "Failed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.reports.WithLabelValues("ISOCH")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.bytes.WithLabelValues("ISOCH")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRun(sampleResult())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "isoflow_runs_total"))
	assert.True(t, strings.Contains(body, `isoflow_flows_total{flow="ISOCH",role="Measurement",state="Completed"} 1`))
}

func TestRunsCollected(t *testing.T) {
	m := New()
	m.ObserveRun(sampleResult())
	n, err := testutil.GatherAndCount(m.Registry, "isoflow_flows_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
