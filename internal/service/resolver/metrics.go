package resolver

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/tenantedge/pkg/metrics"
)

// Metrics counts resolutions by source and outcome.
type Metrics struct {
	lookups *prometheus.CounterVec
}

// NewMetrics registers the resolver collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		lookups: metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "resolver",
			Name:      "lookups_total",
			Help:      "Host resolutions by answering source and outcome",
		}, []string{"source", "outcome"})),
	}
}

func (m *Metrics) observe(source, outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(source, outcome).Inc()
}
