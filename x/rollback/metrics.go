package rollback

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/rollback-manager/metrics"
)

// Metrics holds all rollback manager metrics
type Metrics struct {
	registry *metrics.ComponentRegistry

	ProposalsTotal      prometheus.Counter
	TransitionsTotal    *prometheus.CounterVec
	RejectionsTotal     *prometheus.CounterVec
	BackendErrorsTotal  *prometheus.CounterVec
	BackendDelaySeconds prometheus.Histogram
	BatchSize           prometheus.Histogram
	RecordsTotal        prometheus.Gauge
}

// NewMetrics creates rollback manager metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("rollback_manager", "")

	return &Metrics{
		registry: reg,

		ProposalsTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "proposals_total",
			Help: "Total number of accepted proposals",
		}),

		TransitionsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "transitions_total",
			Help: "Total number of successful lifecycle transitions by resulting state",
		}, []string{"state"}),

		RejectionsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "rejections_total",
			Help: "Total number of rejected operations by error kind and operation",
		}, []string{"kind", "operation"}),

		BackendErrorsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "backend_errors_total",
			Help: "Total number of backend call failures by operation",
		}, []string{"operation"}),

		BackendDelaySeconds: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "backend_delay_seconds",
			Help:    "Backend delay observed at queue time",
			Buckets: metrics.DelayBuckets,
		}),

		BatchSize: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "batch_size",
			Help:    "Number of calls per proposed batch",
			Buckets: metrics.CountBuckets,
		}),

		RecordsTotal: reg.NewGauge(prometheus.GaugeOpts{
			Name: "records_total",
			Help: "Number of rollback records tracked",
		}),
	}
}

// RecordProposal records an accepted proposal and its batch size.
func (m *Metrics) RecordProposal(batchSize int) {
	if m == nil {
		return
	}
	m.ProposalsTotal.Inc()
	m.BatchSize.Observe(float64(batchSize))
}

// RecordTransition records a successful transition into state.
func (m *Metrics) RecordTransition(state State) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(state.String()).Inc()
}

// RecordRejection records a typed rejection.
func (m *Metrics) RecordRejection(kind ErrorKind, operation string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(kind.String(), operation).Inc()
}

// RecordBackendError records a failed backend call.
func (m *Metrics) RecordBackendError(operation string) {
	if m == nil {
		return
	}
	m.BackendErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordBackendDelay records the delay quoted by the backend at queue time.
func (m *Metrics) RecordBackendDelay(seconds float64) {
	if m == nil {
		return
	}
	m.BackendDelaySeconds.Observe(seconds)
}

// SetRecords sets the tracked record count.
func (m *Metrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Set(float64(n))
}
