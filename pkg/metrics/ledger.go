package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initLedgerMetrics(cfg Config) {
	m.ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of participant operations by bank, kind, and result",
		},
		[]string{"bank", "operation", "result"},
	)

	m.journalStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_journal_transitions_total",
			Help: "Total number of journal status transitions by terminal status",
		},
		[]string{"bank", "status"},
	)

	m.registry.MustRegister(m.ledgerOperations)
	m.registry.MustRegister(m.journalStatus)
}

// RecordLedgerOperation records one participant operation outcome.
func (m *Manager) RecordLedgerOperation(bank, operation, result string) {
	if !m.enabled {
		return
	}
	m.ledgerOperations.WithLabelValues(bank, operation, result).Inc()
}

// RecordJournalTransition records one terminal journal transition.
func (m *Manager) RecordJournalTransition(bank, status string) {
	if !m.enabled {
		return
	}
	m.journalStatus.WithLabelValues(bank, status).Inc()
}
