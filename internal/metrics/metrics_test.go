package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	JobRuns.WithLabelValues("publish", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `postplanner_job_runs_total{job="publish",result="ok"}`)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("x")))

	before := testutil.ToFloat64(PostOperations.WithLabelValues("cancel", Result(nil)))
	PostOperations.WithLabelValues("cancel", Result(nil)).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PostOperations.WithLabelValues("cancel", "ok")))
}
