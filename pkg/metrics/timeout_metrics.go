package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request timeout metrics live on the default registry and are shared by
// the timeout middleware across all router groups.
var (
	timeoutMetricsOnce sync.Once

	requestTimeouts *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
)

// InitTimeoutMetrics registers timeout metrics. Call once from main before
// the router starts serving.
func InitTimeoutMetrics() {
	timeoutMetricsOnce.Do(func() {
		requestTimeouts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_timeouts_total",
				Help: "Total number of requests that exceeded their timeout",
			},
			[]string{"method", "path"},
		)
		requestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_timeout_budget_seconds",
				Help:    "Request duration observed by the timeout middleware",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		)
		prometheus.MustRegister(requestTimeouts, requestDuration)
	})
}

// RecordRequestTimeout counts a request that hit its deadline
func RecordRequestTimeout(timeout, duration time.Duration, method, path string) {
	if requestTimeouts == nil {
		return
	}
	requestTimeouts.WithLabelValues(method, path).Inc()
}

// RecordRequestDuration observes a completed request's duration
func RecordRequestDuration(duration time.Duration, method, path, status string) {
	if requestDuration == nil {
		return
	}
	requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
