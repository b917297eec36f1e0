package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	subsystem = "transcribe_queue"

	jobsClaimedTotal   = "jobs_claimed_total"
	jobsFinishedTotal  = "jobs_finished_total"
	jobsRecoveredTotal = "jobs_recovered_total"
	jobsByStatus       = "jobs"
	jobDuration        = "job_duration_seconds"
	httpRequestsTotal  = "http_requests_total"
	httpLatency        = "http_request_duration_milliseconds"

	// Labels
	statusLabel = "status"
	codeLabel   = "code"
	methodLabel = "method"
	pathLabel   = "path"
)

var jobsClaimedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobsClaimedTotal,
		Help:      "number of jobs claimed by the worker",
	},
)

var jobsFinishedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobsFinishedTotal,
		Help:      "number of jobs that reached a terminal status, by status",
	},
	[]string{statusLabel},
)

var jobsRecoveredMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobsRecoveredTotal,
		Help:      "number of running jobs failed by startup recovery",
	},
)

var jobsByStatusMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      jobsByStatus,
		Help:      "current number of jobs in each status",
	},
	[]string{statusLabel},
)

var jobDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      jobDuration,
		Help:      "time from claim to terminal status",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
	},
	[]string{statusLabel},
)

var httpRequestsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      httpRequestsTotal,
		Help:      "number of HTTP requests partitioned by status code, method and route",
	},
	[]string{codeLabel, methodLabel, pathLabel},
)

var httpLatencyMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      httpLatency,
		Help:      "time spent on HTTP requests partitioned by status code, method and route",
		Buckets:   []float64{5, 25, 100, 300, 1000, 5000},
	},
	[]string{codeLabel, methodLabel, pathLabel},
)

func IncreaseJobsClaimedMetric() {
	jobsClaimedMetric.Inc()
}

// ObserveJobFinished counts a terminal outcome and, when elapsed is positive, its duration
func ObserveJobFinished(status domain.JobStatus, elapsed time.Duration) {
	labels := prometheus.Labels{statusLabel: string(status)}
	jobsFinishedMetric.With(labels).Inc()
	if elapsed > 0 {
		jobDurationMetric.With(labels).Observe(elapsed.Seconds())
	}
}

func AddJobsRecoveredMetric(count int64) {
	if count > 0 {
		jobsRecoveredMetric.Add(float64(count))
	}
}

// UpdateJobStatusMetric sets the per-status gauge. Statuses absent from counts are set to zero.
func UpdateJobStatusMetric(counts map[domain.JobStatus]int) {
	for _, status := range []domain.JobStatus{
		domain.JobStatusQueued,
		domain.JobStatusRunning,
		domain.JobStatusDone,
		domain.JobStatusFailed,
		domain.JobStatusCancelled,
	} {
		jobsByStatusMetric.With(prometheus.Labels{statusLabel: string(status)}).Set(float64(counts[status]))
	}
}

// Middleware records request count and latency per matched gin route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{
			codeLabel:   strconv.Itoa(c.Writer.Status()),
			methodLabel: c.Request.Method,
			pathLabel:   path,
		}
		httpRequestsMetric.With(labels).Inc()
		httpLatencyMetric.With(labels).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsClaimedMetric)
	prometheus.MustRegister(jobsFinishedMetric)
	prometheus.MustRegister(jobsRecoveredMetric)
	prometheus.MustRegister(jobsByStatusMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(httpRequestsMetric)
	prometheus.MustRegister(httpLatencyMetric)
}
