package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cassandra metrics for monitoring query performance and reliability
var (
	CassandraQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cassandra_query_duration_seconds",
		Help:    "Cassandra query latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation", "table"})

	CassandraQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_total",
		Help: "Total number of Cassandra queries executed",
	}, []string{"operation", "table", "status"})

	CassandraWriteErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_write_error_total",
		Help: "Total number of Cassandra write errors",
	}, []string{"table", "error_type"})

	CassandraReadErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_read_error_total",
		Help: "Total number of Cassandra read errors",
	}, []string{"table", "error_type"})
)

// RecordCassandraQuery records a completed Cassandra query
func RecordCassandraQuery(operation, table, status string, duration time.Duration) {
	CassandraQueryTotal.WithLabelValues(operation, table, status).Inc()
	CassandraQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordCassandraWriteError records a Cassandra write error
func RecordCassandraWriteError(table, errorType string) {
	CassandraWriteErrorTotal.WithLabelValues(table, errorType).Inc()
}

// RecordCassandraReadError records a Cassandra read error
func RecordCassandraReadError(table, errorType string) {
	CassandraReadErrorTotal.WithLabelValues(table, errorType).Inc()
}
