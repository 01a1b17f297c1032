package saga

import (
	"context"
	"testing"
	"time"

	"github.com/sagabank/sagabank/pkg/book"
	"github.com/sagabank/sagabank/pkg/eventbus"
)

// stalledWorld runs an orchestrator whose only registered bank has no
// service on the bus, so every saga stays undecided.
func stalledWorld(t *testing.T, timeout time.Duration) (*Orchestrator, *MemoryCache, *book.MemoryBook) {
	t.Helper()
	bus := eventbus.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })
	cache := NewMemoryCache(time.Minute)
	t.Cleanup(func() { _ = cache.Close() })
	auditBook := book.NewMemoryBook()
	directory := NewDirectory()
	if err := directory.Register("UC-1", "ghostbank"); err != nil {
		t.Fatalf("register: %v", err)
	}

	orch, err := NewOrchestrator("initiator", bus, cache, auditBook, directory,
		WithDecisionTimeout(timeout))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, cache, auditBook
}

func TestTimeoutSagaRollsBackUndecided(t *testing.T) {
	ctx := context.Background()
	orch, cache, auditBook := stalledWorld(t, 10*time.Millisecond)

	sagaID, err := orch.StartNewAccount(ctx, NewAccountInput{UCID: "UC-1", Owner: "Ghost"})
	if err != nil {
		t.Fatalf("start new account: %v", err)
	}

	orch.TimeoutSaga(ctx, sagaID)

	session, err := cache.Get(ctx, sagaID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !session.Decided || session.Outcome != OutcomeRolledBack {
		t.Fatalf("session after timeout: %+v", session)
	}
	record, err := auditBook.Get(ctx, sagaID)
	if err != nil {
		t.Fatalf("audit get: %v", err)
	}
	if record.Status != book.StatusFailed {
		t.Fatalf("audit status = %s, want FAILED", record.Status)
	}

	// A second timeout is a no-op thanks to the rollback flag.
	orch.TimeoutSaga(ctx, sagaID)
	again, err := cache.Get(ctx, sagaID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if again.Outcome != OutcomeRolledBack {
		t.Fatalf("session after repeat timeout: %+v", again)
	}
}

func TestWatchdogSweepsOverdueSessions(t *testing.T) {
	ctx := context.Background()
	orch, cache, auditBook := stalledWorld(t, 150*time.Millisecond)

	sagaID, err := orch.StartNewAccount(ctx, NewAccountInput{UCID: "UC-1", Owner: "Ghost"})
	if err != nil {
		t.Fatalf("start new account: %v", err)
	}

	watchdog := NewWatchdog(orch, cache, time.Second, nil)

	// Before the deadline the session is left alone.
	watchdog.Sweep(ctx)
	session, err := cache.Get(ctx, sagaID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Decided {
		t.Fatal("watchdog decided a saga before its deadline")
	}

	time.Sleep(200 * time.Millisecond)
	watchdog.Sweep(ctx)

	record, err := auditBook.Get(ctx, sagaID)
	if err != nil {
		t.Fatalf("audit get: %v", err)
	}
	if record.Status != book.StatusFailed {
		t.Fatalf("audit status = %s, want FAILED", record.Status)
	}
}
