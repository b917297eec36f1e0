package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMetrics(t *testing.T) {
	claimed := testutil.ToFloat64(jobsClaimedMetric)
	IncreaseJobsClaimedMetric()
	assert.Equal(t, claimed+1, testutil.ToFloat64(jobsClaimedMetric))

	done := testutil.ToFloat64(jobsFinishedMetric.WithLabelValues("done"))
	ObserveJobFinished(domain.JobStatusDone, 2*time.Second)
	assert.Equal(t, done+1, testutil.ToFloat64(jobsFinishedMetric.WithLabelValues("done")))

	recovered := testutil.ToFloat64(jobsRecoveredMetric)
	AddJobsRecoveredMetric(3)
	AddJobsRecoveredMetric(0)
	assert.Equal(t, recovered+3, testutil.ToFloat64(jobsRecoveredMetric))
}

func TestUpdateJobStatusMetric(t *testing.T) {
	UpdateJobStatusMetric(map[domain.JobStatus]int{
		domain.JobStatusQueued:  4,
		domain.JobStatusRunning: 1,
	})

	assert.Equal(t, float64(4), testutil.ToFloat64(jobsByStatusMetric.WithLabelValues("queued")))
	assert.Equal(t, float64(1), testutil.ToFloat64(jobsByStatusMetric.WithLabelValues("running")))
	assert.Equal(t, float64(0), testutil.ToFloat64(jobsByStatusMetric.WithLabelValues("done")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(Handler()))

	before := testutil.ToFloat64(httpRequestsMetric.WithLabelValues("204", "GET", "/ping/:id"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping/abc", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsMetric.WithLabelValues("204", "GET", "/ping/:id")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "transcribe_queue_jobs_claimed_total")
}
