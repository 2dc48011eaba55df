package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestRecordBeforeInit tests that recording without Init is a no-op
func TestRecordBeforeInit(t *testing.T) {
	// Must not panic even when Init has not run yet
	RecordRequestTimeout(time.Second, 2*time.Second, "GET", "/v1/calls")
	RecordRequestDuration(50*time.Millisecond, "GET", "/v1/calls", "200")
}

// TestInitTimeoutMetrics tests registration and recording
func TestInitTimeoutMetrics(t *testing.T) {
	InitTimeoutMetrics()
	InitTimeoutMetrics() // idempotent

	before := testutil.ToFloat64(requestTimeouts.WithLabelValues("POST", "/v1/calls"))
	RecordRequestTimeout(time.Second, 2*time.Second, "POST", "/v1/calls")
	after := testutil.ToFloat64(requestTimeouts.WithLabelValues("POST", "/v1/calls"))

	assert.Equal(t, before+1, after)
}
