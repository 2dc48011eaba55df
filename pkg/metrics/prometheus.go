package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Call lifecycle metrics
	callsTotal        *prometheus.CounterVec
	callsActive       prometheus.Gauge
	callDuration      prometheus.Histogram
	ringToAccept      prometheus.Histogram
	claimClearsFailed prometheus.Counter

	// Signaling metrics
	signalingMessagesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls by terminal status",
				ConstLabels: labels,
			},
			[]string{"status", "call_type"},
		),
		callsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of calls currently ringing or accepted",
				ConstLabels: labels,
			},
		),
		callDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		ringToAccept: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_ring_to_accept_seconds",
				Help:        "Time between call creation and acceptance",
				ConstLabels: labels,
				Buckets:     []float64{1, 2, 5, 10, 15, 30, 45, 60},
			},
		),
		claimClearsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_claim_clears_failed_total",
				Help:        "Total number of best-effort claim clears that failed",
				ConstLabels: labels,
			},
		),
		signalingMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_messages_total",
				Help:        "Total number of signaling messages relayed",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.callsTotal,
		m.callsActive,
		m.callDuration,
		m.ringToAccept,
		m.claimClearsFailed,
		m.signalingMessagesTotal,
	)

	return m
}

// GetRegistry returns the private registry backing this Metrics instance
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// IncrementActiveCalls increments the active calls gauge
func (m *Metrics) IncrementActiveCalls() {
	m.callsActive.Inc()
}

// DecrementActiveCalls decrements the active calls gauge
func (m *Metrics) DecrementActiveCalls() {
	m.callsActive.Dec()
}

// RecordCallOutcome records a terminal call by status and type
func (m *Metrics) RecordCallOutcome(status, callType string) {
	m.callsTotal.WithLabelValues(status, callType).Inc()
}

// RecordCallDuration records the duration of an ended call
func (m *Metrics) RecordCallDuration(seconds int) {
	m.callDuration.Observe(float64(seconds))
}

// RecordRingToAccept records the ringing phase duration for an accepted call
func (m *Metrics) RecordRingToAccept(d time.Duration) {
	m.ringToAccept.Observe(d.Seconds())
}

// RecordClaimClearFailure counts a failed best-effort claim clear
func (m *Metrics) RecordClaimClearFailure() {
	m.claimClearsFailed.Inc()
}

// RecordSignalingMessage counts a relayed signaling message by type
func (m *Metrics) RecordSignalingMessage(msgType string) {
	m.signalingMessagesTotal.WithLabelValues(msgType).Inc()
}
