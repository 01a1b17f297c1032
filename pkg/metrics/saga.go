package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSagaMetrics(cfg Config) {
	m.sagaStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_started_total",
			Help: "Total number of sagas started by operation type",
		},
		[]string{"operation"},
	)

	m.sagaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_decisions_total",
			Help: "Total number of terminal saga decisions by operation type and outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.sagaDecisionTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_decision_seconds",
			Help:    "Time from saga start to terminal decision in seconds",
			Buckets: cfg.DecisionTimeBuckets,
		},
		[]string{"operation"},
	)

	m.sagaActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_active_sessions",
			Help: "Current number of undecided saga sessions",
		},
	)

	m.sagaCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of rollbacks by trigger",
		},
		[]string{"trigger"},
	)

	m.sagaTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_timeouts_total",
			Help: "Total number of sagas rolled back by the decision timeout",
		},
	)

	m.sagaDroppedReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_dropped_replies_total",
			Help: "Total number of replies dropped for unknown or decided sagas",
		},
	)

	m.registry.MustRegister(m.sagaStarted)
	m.registry.MustRegister(m.sagaDecisions)
	m.registry.MustRegister(m.sagaDecisionTime)
	m.registry.MustRegister(m.sagaActive)
	m.registry.MustRegister(m.sagaCompensations)
	m.registry.MustRegister(m.sagaTimeouts)
	m.registry.MustRegister(m.sagaDroppedReplies)
}

// RecordSagaStarted records one saga start.
func (m *Manager) RecordSagaStarted(operation string) {
	if !m.enabled {
		return
	}
	m.sagaStarted.WithLabelValues(operation).Inc()
}

// RecordSagaDecision records one terminal decision and its latency.
func (m *Manager) RecordSagaDecision(operation, outcome string, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	m.sagaDecisions.WithLabelValues(operation, outcome).Inc()
	m.sagaDecisionTime.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IncActiveSessions increments the undecided session count.
func (m *Manager) IncActiveSessions() {
	if !m.enabled {
		return
	}
	m.sagaActive.Inc()
}

// DecActiveSessions decrements the undecided session count.
func (m *Manager) DecActiveSessions() {
	if !m.enabled {
		return
	}
	m.sagaActive.Dec()
}

// RecordCompensation records one rollback by trigger (failure, timeout,
// fault injection, panic).
func (m *Manager) RecordCompensation(trigger string) {
	if !m.enabled {
		return
	}
	m.sagaCompensations.WithLabelValues(trigger).Inc()
}

// RecordSagaTimeout records one decision-timeout rollback.
func (m *Manager) RecordSagaTimeout() {
	if !m.enabled {
		return
	}
	m.sagaTimeouts.Inc()
}

// RecordDroppedReply records one dropped reply.
func (m *Manager) RecordDroppedReply() {
	if !m.enabled {
		return
	}
	m.sagaDroppedReplies.Inc()
}
