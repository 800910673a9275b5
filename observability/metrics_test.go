package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/syncer"
)

func TestMetricsCounters(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	metrics.RecordOutcome(gcdr.KindDevice, syncer.ActionCreate, "succeeded")
	metrics.RecordOutcome(gcdr.KindDevice, syncer.ActionCreate, "succeeded")
	metrics.RecordRequest(http.MethodGet, 200)
	metrics.RecordRequest(http.MethodPost, 0)
	metrics.RecordRun()

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.outcomes.WithLabelValues("device", "CREATE", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("POST", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs))
}

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.RecordOutcome(gcdr.KindCustomer, syncer.ActionUpdate, "failed")
	metrics.RecordRequest(http.MethodGet, 200)
	metrics.RecordRun()
}

func TestHandlerServesExposition(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	metrics.RecordRun()

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "gcdrsync_runs_total 1")
}
