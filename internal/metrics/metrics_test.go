package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counts(t *testing.T) {
	p, err := NewPrometheus()
	require.NoError(t, err)

	p.IterationsInFlight(2)
	p.IterationFinished(true, 3*time.Second, 40)
	p.IterationFinished(false, time.Second, 99)
	p.IterationsInFlight(-2)
	p.RunFinished(true)
	p.UnmatchedColumns(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.iterations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.iterations.WithLabelValues("failure")))
	assert.Equal(t, 40.0, testutil.ToFloat64(p.records), "failed iterations add no records")
	assert.Equal(t, 0.0, testutil.ToFloat64(p.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.runs.WithLabelValues("crashed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.unmatched))
}

func TestPrometheus_Handler(t *testing.T) {
	p, err := NewPrometheus()
	require.NoError(t, err)
	p.IterationFinished(true, time.Second, 1)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `simrun_iterations_total{status="success"} 1`)
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.IterationFinished(true, time.Second, 1)
	r.RunFinished(false)
}
