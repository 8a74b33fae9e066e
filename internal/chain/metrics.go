package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the host's prometheus instruments.
type Metrics struct {
	committed *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	duration  prometheus.Histogram
	sequence  prometheus.Gauge
}

// NewMetrics registers the host metrics with registry. A nil registry yields
// nil, which the host treats as disabled.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)
	return &Metrics{
		committed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondescrow_tx_committed_total",
			Help: "Total number of committed transactions",
		}, []string{"op"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondescrow_tx_rejected_total",
			Help: "Total number of reverted transactions by error kind",
		}, []string{"op", "kind"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bondescrow_tx_duration_seconds",
			Help:    "Transaction execution time including commit hooks",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		sequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bondescrow_chain_sequence",
			Help: "Sequence number of the last committed transaction",
		}),
	}
}

func (m *Metrics) observe(op string, seconds float64, seq uint64, kind string) {
	if m == nil {
		return
	}
	m.duration.Observe(seconds)
	if kind != "" {
		m.rejected.WithLabelValues(op, kind).Inc()
		return
	}
	m.committed.WithLabelValues(op).Inc()
	m.sequence.Set(float64(seq))
}
