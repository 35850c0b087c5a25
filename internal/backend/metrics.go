package backend

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts object-store operations by outcome.
type Metrics struct {
	opsTotal *prometheus.CounterVec
}

// NewMetrics registers the backend collectors with the given registerer.
// Pass prometheus.NewRegistry() in tests to avoid collisions.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mauve",
				Subsystem: "backend",
				Name:      "operations_total",
				Help:      "Object store operations by op and status.",
			},
			[]string{"op", "status"},
		),
	}
	if registerer != nil {
		registerer.MustRegister(m.opsTotal)
	}
	return m
}

func (m *Metrics) record(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.opsTotal.WithLabelValues(op, status).Inc()
}
