package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// scrape fetches the metrics endpoint body from the manager's handler.
func scrape(t *testing.T, m *Manager) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want %d", rec.Code, http.StatusOK)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled {
		t.Error("default config should enable metrics")
	}
	if cfg.Port != 9091 {
		t.Errorf("Port = %d, want 9091", cfg.Port)
	}
	if cfg.Path != "/metrics" {
		t.Errorf("Path = %q, want /metrics", cfg.Path)
	}
	if len(cfg.DecisionTimeBuckets) == 0 || len(cfg.HTTPDurationBuckets) == 0 {
		t.Error("default config must define histogram buckets")
	}
}

func TestManagerRecordsSagaMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())
	if !m.Enabled() {
		t.Fatal("manager built from default config should be enabled")
	}

	m.RecordSagaStarted("new_bank_account")
	m.RecordSagaDecision("new_bank_account", "completed", 25*time.Millisecond)
	m.IncActiveSessions()
	m.RecordCompensation("timeout")
	m.RecordSagaTimeout()
	m.RecordDroppedReply()

	body := scrape(t, m)
	for _, metric := range []string{
		`saga_started_total{operation="new_bank_account"} 1`,
		`saga_decisions_total{operation="new_bank_account",outcome="completed"} 1`,
		`saga_active_sessions 1`,
		`saga_compensations_total{trigger="timeout"} 1`,
		"saga_timeouts_total 1",
		"saga_dropped_replies_total 1",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("scrape output missing %q", metric)
		}
	}

	m.DecActiveSessions()
	if body := scrape(t, m); !strings.Contains(body, "saga_active_sessions 0") {
		t.Error("active sessions gauge did not decrement")
	}
}

func TestManagerRecordsLedgerAndBusMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordLedgerOperation("banka", "deposit", "staged")
	m.RecordJournalTransition("banka", "Completed")
	m.RecordPublish("success")
	m.RecordPublish("failed")
	m.RecordRetry()
	m.SetDegradedMode(true)

	body := scrape(t, m)
	for _, metric := range []string{
		`bank="banka"`,
		`status="success"`,
		`status="failed"`,
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("scrape output missing %q", metric)
		}
	}

	m.SetDegradedMode(false)
	if !strings.Contains(scrape(t, m), "bus_degraded_mode 0") {
		t.Error("degraded mode gauge did not clear")
	}
}

func TestManagerRecordsHTTPMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordHTTPRequest(http.MethodPost, "/api/v1/accounts", "202", 3*time.Millisecond)
	m.IncActiveConnections()

	body := scrape(t, m)
	if !strings.Contains(body, `path="/api/v1/accounts"`) {
		t.Error("scrape output missing http request labels")
	}

	m.DecActiveConnections()
}

func TestDisabledManagerIsInert(t *testing.T) {
	for name, m := range map[string]*Manager{
		"noop":     NoOpManager(),
		"disabled": NewManager(Config{Enabled: false}),
	} {
		if m.Enabled() {
			t.Errorf("%s manager reports enabled", name)
		}

		// Every record method must tolerate the disabled state.
		m.RecordSagaStarted("transact")
		m.RecordSagaDecision("transact", "rolled_back", time.Second)
		m.IncActiveSessions()
		m.DecActiveSessions()
		m.RecordCompensation("failure")
		m.RecordSagaTimeout()
		m.RecordDroppedReply()
		m.RecordLedgerOperation("bankb", "withdraw", "rejected")
		m.RecordJournalTransition("bankb", "FailedToComplete")
		m.RecordPublish("success")
		m.RecordRetry()
		m.SetDegradedMode(true)
		m.RecordHTTPRequest(http.MethodGet, "/healthz", "200", time.Millisecond)
		m.IncActiveConnections()
		m.DecActiveConnections()

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s manager handler status = %d, want %d", name, rec.Code, http.StatusNotFound)
		}
	}
}

func TestGoRuntimeCollectorsRegistered(t *testing.T) {
	m := NewManager(DefaultConfig())
	if !strings.Contains(scrape(t, m), "go_goroutines") {
		t.Error("scrape output missing go runtime collector metrics")
	}
}
