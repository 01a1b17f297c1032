package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initBusMetrics(cfg Config) {
	m.busPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publishes_total",
			Help: "Total number of bus publish attempts by status",
		},
		[]string{"status"},
	)

	m.busRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_publish_retries_total",
			Help: "Total number of bus publish retries",
		},
	)

	m.busDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_degraded_mode",
			Help: "Whether the bus publisher is in degraded mode (0 or 1)",
		},
	)

	m.registry.MustRegister(m.busPublishes)
	m.registry.MustRegister(m.busRetries)
	m.registry.MustRegister(m.busDegraded)
}

// RecordPublish records one publish attempt outcome. Implements the
// event bus Telemetry interface.
func (m *Manager) RecordPublish(status string) {
	if !m.enabled {
		return
	}
	m.busPublishes.WithLabelValues(status).Inc()
}

// RecordRetry records one publish retry.
func (m *Manager) RecordRetry() {
	if !m.enabled {
		return
	}
	m.busRetries.Inc()
}

// SetDegradedMode flips the degraded-mode gauge.
func (m *Manager) SetDegradedMode(active bool) {
	if !m.enabled {
		return
	}
	if active {
		m.busDegraded.Set(1)
		return
	}
	m.busDegraded.Set(0)
}
