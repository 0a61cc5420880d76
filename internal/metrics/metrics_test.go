package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Attempt("direct", "get", "not_found")
	m.Attempt("tapis", "get", "success")
	m.Attempt("tapis", "get", "success")
	m.Retry("put")
	m.Observe("get", 20*time.Millisecond)
	m.GrantFailure("data-sd2e-community")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("tapis", "get", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grantFailures.WithLabelValues("data-sd2e-community")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	n, err := testutil.GatherAndCount(reg, "bacanora_dispatch_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Attempt("direct", "get", "success")
		m.Retry("get")
		m.Observe("get", time.Second)
		m.GrantFailure("x")
	})
}
