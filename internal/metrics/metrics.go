package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// AttemptOutcomes counts every start/submit resolution by operation and outcome.
	AttemptOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_outcomes_total",
			Help: "Attempt operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// SubmitLateness observes how far past the deadline accepted submissions arrived.
	SubmitLateness = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attempt_submit_lateness_seconds",
			Help:    "Seconds past the deadline for submissions accepted in the grace window",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10},
		},
	)

	// QueueJobs counts jobs processed by background workers.
	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Background jobs by queue and result",
		},
		[]string{"queue", "result"},
	)
)

// Init registers every collector with the default registry. Call once.
func Init() {
	prometheus.MustRegister(RequestCounter, RequestDuration, AttemptOutcomes, SubmitLateness, QueueJobs)
}

// Outcome records one attempt operation result.
func Outcome(operation, outcome string) {
	AttemptOutcomes.WithLabelValues(operation, outcome).Inc()
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
