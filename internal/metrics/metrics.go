// Package metrics exposes rotation counters and gate latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cloudlaps"

// Metrics records rotation outcomes. It satisfies rotation.Observer.
type Metrics struct {
	requests     *prometheus.CounterVec
	gateDuration *prometheus.HistogramVec
	gateFailures *prometheus.CounterVec
}

// New registers the rotation collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rotation_requests_total",
				Help:      "Rotation requests by outcome: success or the refusing gate",
			},
			[]string{"outcome"},
		),
		gateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rotation_gate_duration_seconds",
				Help:      "Time spent in each rotation gate",
				Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"gate"},
		),
		gateFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rotation_gate_failures_total",
				Help:      "Gate runs that refused or failed the request",
			},
			[]string{"gate"},
		),
	}
}

func (m *Metrics) ObserveGate(gate string, elapsed time.Duration, err error) {
	m.gateDuration.WithLabelValues(gate).Observe(elapsed.Seconds())
	if err != nil {
		m.gateFailures.WithLabelValues(gate).Inc()
	}
}

func (m *Metrics) ObserveOutcome(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}
