package ledger

import "testing"

func TestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to ParticipantStatus
	}{
		{StatusActive, StatusCompleting},
		{StatusActive, StatusCompensating},
		{StatusActive, StatusFailedToComplete},
		{StatusCompleting, StatusCompleted},
		{StatusCompleting, StatusFailedToComplete},
		{StatusCompensating, StatusCompensated},
		{StatusCompensating, StatusFailedToCompensate},
		{StatusCompleted, StatusCompensating},
	}
	for _, tc := range allowed {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Fatalf("expected %s -> %s to be valid: %v", tc.from, tc.to, err)
		}
	}

	forbidden := []struct {
		from, to ParticipantStatus
	}{
		{StatusActive, StatusCompleted},
		{StatusActive, StatusCompensated},
		{StatusCompleted, StatusActive},
		{StatusCompleted, StatusCompleting},
		{StatusCompensated, StatusCompleting},
		{StatusFailedToComplete, StatusCompleted},
		{StatusFailedToCompensate, StatusActive},
	}
	for _, tc := range forbidden {
		if err := ValidateTransition(tc.from, tc.to); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestStatusSelfTransition(t *testing.T) {
	for status := range statusNames {
		if !status.CanTransitionTo(status) {
			t.Fatalf("expected %s -> %s self transition to be allowed", status, status)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []ParticipantStatus{StatusCompleted, StatusCompensated, StatusFailedToComplete, StatusFailedToCompensate}
	for _, status := range terminal {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	live := []ParticipantStatus{StatusActive, StatusCompleting, StatusCompensating}
	for _, status := range live {
		if status.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}

func TestParseParticipantStatus(t *testing.T) {
	for status, name := range statusNames {
		parsed, err := ParseParticipantStatus(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if parsed != status {
			t.Fatalf("parse %q: got %v want %v", name, parsed, status)
		}
	}
	if _, err := ParseParticipantStatus("Bogus"); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestEntryTransition(t *testing.T) {
	entry := NewEntry("saga-1", KindDeposit, "AC1", 100)
	if entry.Status != StatusActive {
		t.Fatalf("new entry status = %s, want Active", entry.Status)
	}
	if err := entry.Transition(StatusCompleting); err != nil {
		t.Fatalf("transition to Completing: %v", err)
	}
	if err := entry.Transition(StatusCompleted); err != nil {
		t.Fatalf("transition to Completed: %v", err)
	}
	if err := entry.Transition(StatusCompensating); err == nil {
		t.Fatal("expected Completed -> Compensating to be rejected")
	}
	if entry.Status != StatusCompleted {
		t.Fatalf("failed transition mutated status to %s", entry.Status)
	}
}

func TestParseOperationKind(t *testing.T) {
	for _, kind := range []OperationKind{KindDeposit, KindWithdraw, KindOpenAccount} {
		parsed, err := ParseOperationKind(string(kind))
		if err != nil {
			t.Fatalf("parse %q: %v", kind, err)
		}
		if parsed != kind {
			t.Fatalf("parse %q: got %q", kind, parsed)
		}
	}
	if _, err := ParseOperationKind("loan"); err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
}
