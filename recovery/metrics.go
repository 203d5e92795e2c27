package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all chronovista metrics.
	MetricsNamespace = "chronovista"

	// MetricsSubsystem is the subsystem for recovery metrics.
	MetricsSubsystem = "recovery"
)

// Metrics holds Prometheus metrics for recoveries. A nil *Metrics records
// nothing.
type Metrics struct {
	AttemptsTotal         *prometheus.CounterVec
	SnapshotsTried        prometheus.Histogram
	FieldsRecoveredTotal  *prometheus.CounterVec
	DurationSeconds       prometheus.Histogram
	CircuitBreakerChanges *prometheus.CounterVec
}

// NewMetrics creates and registers the recovery metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "attempts_total",
				Help:      "Recovery attempts by outcome and failure reason",
			},
			[]string{"outcome", "reason"},
		),
		SnapshotsTried: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "snapshots_tried",
				Help:      "Archived captures read per recovery",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 15, 20},
			},
		),
		FieldsRecoveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "fields_recovered_total",
				Help:      "Video fields written by recovery",
			},
			[]string{"field"},
		),
		DurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "duration_seconds",
				Help:      "Duration of one video recovery in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~3.4min
			},
		),
		CircuitBreakerChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: "http",
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state changes by host",
			},
			[]string{"host", "from", "to"},
		),
	}
}

func (m *Metrics) observe(res *Result) {
	if m == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	m.AttemptsTotal.WithLabelValues(outcome, string(res.FailureReason)).Inc()
	m.SnapshotsTried.Observe(float64(res.SnapshotsTried))
	m.DurationSeconds.Observe(res.Duration.Seconds())
	for _, f := range res.FieldsRecovered {
		m.FieldsRecoveredTotal.WithLabelValues(string(f)).Inc()
	}
}

// CircuitStateChanged records a breaker transition. Its signature matches
// the http package's OnStateChange hook once states are stringified.
func (m *Metrics) CircuitStateChanged(host, from, to string) {
	if m == nil {
		return
	}
	m.CircuitBreakerChanges.WithLabelValues(host, from, to).Inc()
}
