package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics carries the server-side counters. A nil *Metrics is valid and
// records nothing, which keeps tests free of a registry.
type Metrics struct {
	accepted  prometheus.Counter
	rejected  prometheus.Counter
	failed    *prometheus.CounterVec
	active    prometheus.Gauge
	bytesIn   prometheus.Counter
	bytesOut  prometheus.Counter
	shutdowns *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mauve",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mauve",
			Subsystem: "server",
			Name:      "connections_rejected_total",
			Help:      "Connections turned away at capacity.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mauve",
			Subsystem: "server",
			Name:      "connections_failed_total",
			Help:      "Connections ended by error, by kind.",
		}, []string{"kind"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mauve",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently being served.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mauve",
			Subsystem: "server",
			Name:      "bytes_read_total",
			Help:      "Bytes read from clients.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mauve",
			Subsystem: "server",
			Name:      "bytes_written_total",
			Help:      "Bytes written to clients.",
		}),
		shutdowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mauve",
			Subsystem: "server",
			Name:      "shutdowns_total",
			Help:      "Shutdown completions, by outcome.",
		}, []string{"outcome"}),
	}
	registerer.MustRegister(m.accepted, m.rejected, m.failed, m.active, m.bytesIn, m.bytesOut, m.shutdowns)
	return m
}

func (m *Metrics) connAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.active.Inc()
}

func (m *Metrics) connRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) connFinished(kind ErrorKind, bytesRead, bytesWritten int64) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.bytesIn.Add(float64(bytesRead))
	m.bytesOut.Add(float64(bytesWritten))
	if kind != KindNone {
		m.failed.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) shutdownFinished(forced bool) {
	if m == nil {
		return
	}
	outcome := "clean"
	if forced {
		outcome = "forced"
	}
	m.shutdowns.WithLabelValues(outcome).Inc()
}
