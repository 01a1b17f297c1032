package book

import (
	"context"
	"errors"
	"testing"
)

func appendRecord(t *testing.T, b Book, sagaID, operation string) {
	t.Helper()
	if err := b.Append(context.Background(), Record{SagaID: sagaID, Operation: operation, UCID: "UC-1"}); err != nil {
		t.Fatalf("append %s: %v", sagaID, err)
	}
}

func TestAppendStartsPending(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBook()

	appendRecord(t, b, "saga-1", "new_bank_account")
	record, err := b.Get(ctx, "saga-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", record.Status)
	}
	if record.Read {
		t.Fatal("new record must be unread")
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	if err := b.Append(ctx, Record{SagaID: "saga-1"}); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("duplicate append: got %v, want ErrRecordExists", err)
	}
	if err := b.Append(ctx, Record{}); err == nil {
		t.Fatal("expected missing saga id to be rejected")
	}
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBook()
	appendRecord(t, b, "saga-1", "transact")

	if err := b.UpdateStatus(ctx, "saga-1", StatusOngoing); err != nil {
		t.Fatalf("update to ONGOING: %v", err)
	}
	if err := b.UpdateStatus(ctx, "saga-1", StatusCompleted); err != nil {
		t.Fatalf("update to COMPLETED: %v", err)
	}
	record, err := b.Get(ctx, "saga-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", record.Status)
	}

	if err := b.UpdateStatus(ctx, "saga-9", StatusOngoing); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("update missing: got %v, want ErrRecordNotFound", err)
	}
	if err := b.UpdateStatus(ctx, "saga-1", Status("ARCHIVED")); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestNotificationsLifecycle(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBook()
	appendRecord(t, b, "saga-1", "new_credit_card")

	// PENDING rows never surface.
	notifications, err := b.Notifications(ctx)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notifications) != 0 {
		t.Fatalf("pending surfaced: %+v", notifications)
	}

	// ONGOING surfaces but stays unread, so it surfaces again.
	if err := b.UpdateStatus(ctx, "saga-1", StatusOngoing); err != nil {
		t.Fatalf("update: %v", err)
	}
	for i := 0; i < 2; i++ {
		notifications, err = b.Notifications(ctx)
		if err != nil {
			t.Fatalf("notifications: %v", err)
		}
		if len(notifications) != 1 || notifications[0].Status != StatusOngoing {
			t.Fatalf("poll %d: %+v", i, notifications)
		}
	}

	// Terminal rows surface exactly once.
	if err := b.UpdateStatus(ctx, "saga-1", StatusFailed); err != nil {
		t.Fatalf("update: %v", err)
	}
	notifications, err = b.Notifications(ctx)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Status != StatusFailed {
		t.Fatalf("terminal poll: %+v", notifications)
	}
	notifications, err = b.Notifications(ctx)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notifications) != 0 {
		t.Fatalf("consumed terminal row surfaced again: %+v", notifications)
	}

	// The row itself is retained for the audit listing.
	record, err := b.Get(ctx, "saga-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !record.Read || record.Status != StatusFailed {
		t.Fatalf("record after consumption: %+v", record)
	}
}

func TestListOrdered(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBook()
	appendRecord(t, b, "saga-b", "transact")
	appendRecord(t, b, "saga-a", "new_bank_account")
	appendRecord(t, b, "saga-c", "new_credit_card")

	records, err := b.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		if cur.CreatedAt.Before(prev.CreatedAt) {
			t.Fatalf("records out of order: %s before %s", cur.SagaID, prev.SagaID)
		}
		if cur.CreatedAt.Equal(prev.CreatedAt) && cur.SagaID < prev.SagaID {
			t.Fatalf("tie not broken by saga id: %s before %s", cur.SagaID, prev.SagaID)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusOngoing, StatusCompleted, StatusFailed} {
		parsed, err := ParseStatus(string(status))
		if err != nil {
			t.Fatalf("parse %s: %v", status, err)
		}
		if parsed != status {
			t.Fatalf("parse %s: got %s", status, parsed)
		}
	}
	if _, err := ParseStatus("DONE"); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}

	if StatusPending.IsTerminal() || StatusOngoing.IsTerminal() {
		t.Fatal("non-terminal status reported terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatal("terminal status reported non-terminal")
	}
}
