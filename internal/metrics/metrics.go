// Package metrics holds the Prometheus collectors bacanora updates while
// dispatching operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bacanora"

// Metrics groups the collectors.
type Metrics struct {
	attempts      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	grantFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests that build many clients want.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Backend attempts by backend, command and outcome.",
		}, []string{"backend", "command", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Dispatch rounds repeated after a transient failure.",
		}, []string{"command"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Wall time of a dispatched command including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"command"}),
		grantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_entry_failures_total",
			Help:      "Entries of a recursive grant that could not be updated.",
		}, []string{"system"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.attempts, m.retries, m.duration, m.grantFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Attempt counts one backend attempt.
func (m *Metrics) Attempt(backend, command, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(backend, command, outcome).Inc()
}

// Retry counts one repeated dispatch round.
func (m *Metrics) Retry(command string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(command).Inc()
}

// Observe records the duration of a dispatched command.
func (m *Metrics) Observe(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(command).Observe(d.Seconds())
}

// GrantFailure counts one failed entry of a recursive grant.
func (m *Metrics) GrantFailure(system string) {
	if m == nil {
		return
	}
	m.grantFailures.WithLabelValues(system).Inc()
}
