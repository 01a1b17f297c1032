// Package saga implements the initiator side of the banking sagas: it
// fans requests out to participants, aggregates their replies, and
// issues exactly one commit or rollback decision per saga.
package saga

import (
	"time"

	"github.com/sagabank/sagabank/pkg/eventbus"
)

// OperationType names the saga flavors the initiator can start.
type OperationType string

const (
	OpNewBankAccount OperationType = "new_bank_account"
	OpNewCreditCard  OperationType = "new_credit_card"
	OpTransfer       OperationType = "transact"
)

// Outcomes of a terminal decision.
const (
	OutcomeCompleted  = "completed"
	OutcomeRolledBack = "rolled_back"
)

// Session aggregates the replies of one saga until the initiator can
// decide. It is plain serializable data: all locking lives in the
// orchestrator so the session survives a round-trip through any
// SessionCache implementation.
type Session struct {
	SagaID    string        `json:"saga_id"`
	Operation OperationType `json:"operation"`
	UCID      string        `json:"ucid,omitempty"`

	// Bank is the participant owning the primary work. For transfers
	// it owns the withdraw leg and CounterpartyBank owns the deposit
	// leg; for same-bank transfers CounterpartyBank is empty.
	Bank             string `json:"bank"`
	CounterpartyBank string `json:"counterparty_bank,omitempty"`

	Request    eventbus.Request `json:"request"`
	ForceError bool             `json:"force_error,omitempty"`

	// Reply aggregation flags per the completion predicates.
	CreditScoreReplied    bool `json:"credit_score_replied,omitempty"`
	AccountsReplied       bool `json:"accounts_replied,omitempty"`
	SecondAccountsReplied bool `json:"second_accounts_replied,omitempty"`
	WithdrawReplied       bool `json:"withdraw_replied,omitempty"`
	DepositReplied        bool `json:"deposit_replied,omitempty"`

	// SecondRequested guards the set-balance request so reordered or
	// duplicated first-phase replies cannot send it twice.
	SecondRequested bool `json:"second_requested,omitempty"`

	// Intermediate values carried between phases.
	CreditScore   int    `json:"credit_score,omitempty"`
	CardNumber    string `json:"cc_number,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	CreditLimit   int64  `json:"credit_limit,omitempty"`

	// Decision state. RollbackPerformed is the checked-and-set flag
	// that makes the rollback decision exactly-once.
	Decided           bool   `json:"decided"`
	Outcome           string `json:"outcome,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RollbackPerformed bool   `json:"rollback_performed"`

	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// CrossBank reports whether the transfer spans two banks.
func (s *Session) CrossBank() bool {
	return s.CounterpartyBank != "" && s.CounterpartyBank != s.Bank
}

// Participants returns the banks that hold staged work for this saga.
// The credit-score service never stages anything, so it receives no
// terminal signals.
func (s *Session) Participants() []string {
	if s.CrossBank() {
		return []string{s.Bank, s.CounterpartyBank}
	}
	return []string{s.Bank}
}

// ReadyToCommit evaluates the completion predicate for the operation.
func (s *Session) ReadyToCommit() bool {
	switch s.Operation {
	case OpNewBankAccount:
		return s.AccountsReplied
	case OpNewCreditCard:
		return s.CreditScoreReplied && s.AccountsReplied && s.SecondAccountsReplied
	case OpTransfer:
		if s.CrossBank() {
			return s.WithdrawReplied && s.DepositReplied
		}
		return s.AccountsReplied
	default:
		return false
	}
}

// CardPhaseReady reports whether the first new-credit-card phase is
// done: the card exists and the score arrived, in either order.
func (s *Session) CardPhaseReady() bool {
	return s.Operation == OpNewCreditCard && s.CreditScoreReplied && s.AccountsReplied
}
