package verify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/tenantedge/pkg/metrics"
)

// Metrics tracks verification attempts and sweep latency.
type Metrics struct {
	attempts *prometheus.CounterVec
	sweeps   prometheus.Histogram
}

// NewMetrics registers the verifier collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		attempts: metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "verifier",
			Name:      "attempts_total",
			Help:      "Nameserver verification attempts by outcome",
		}, []string{"outcome"})),
		sweeps: metrics.Register(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "verifier",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of complete verification sweeps",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900},
		})),
	}
}

func (m *Metrics) observe(outcome Outcome) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observeSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.Observe(d.Seconds())
}
