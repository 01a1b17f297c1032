package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationKind identifies the journaled operation on an account.
type OperationKind string

const (
	KindDeposit  OperationKind = "deposit"
	KindWithdraw OperationKind = "withdraw"
	// KindOpenAccount records an account created for a saga. The account
	// goes live when the row is journaled; cancel removes it.
	KindOpenAccount OperationKind = "open_account"
)

// ParseOperationKind rejects anything outside the closed kind set.
func ParseOperationKind(value string) (OperationKind, error) {
	switch OperationKind(value) {
	case KindDeposit, KindWithdraw, KindOpenAccount:
		return OperationKind(value), nil
	default:
		return "", fmt.Errorf("ledger: unknown operation kind %q", value)
	}
}

// Entry is one write-ahead journal row. Entries are keyed by
// (SagaID, Kind) and retained after terminal transitions for audit.
type Entry struct {
	ID         string            `json:"id"`
	SagaID     string            `json:"saga_id"`
	Kind       OperationKind     `json:"kind"`
	AccountRef string            `json:"account_ref"`
	Amount     int64             `json:"amount"`
	Status     ParticipantStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewEntry journals a staged operation in its initial Active status.
func NewEntry(sagaID string, kind OperationKind, accountRef string, amount int64) Entry {
	now := time.Now().UTC()
	return Entry{
		ID:         uuid.NewString(),
		SagaID:     sagaID,
		Kind:       kind,
		AccountRef: accountRef,
		Amount:     amount,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition applies a status transition on the entry.
func (e *Entry) Transition(next ParticipantStatus) error {
	if e == nil {
		return fmt.Errorf("ledger: journal entry cannot be nil")
	}
	if err := ValidateTransition(e.Status, next); err != nil {
		return err
	}
	e.Status = next
	e.UpdatedAt = time.Now().UTC()
	return nil
}
