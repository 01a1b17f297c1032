// Package models defines API request and response payloads.
package models

import "time"

// NewAccountRequest asks for a checking account for an existing customer.
type NewAccountRequest struct {
	UCID       string `json:"ucid" validate:"required"`
	Owner      string `json:"owner" validate:"required"`
	ForceError bool   `json:"force_error"`
}

// NewCreditCardRequest asks for a credit card. The limit is decided by
// the customer's credit score.
type NewCreditCardRequest struct {
	UCID       string `json:"ucid" validate:"required"`
	ForceError bool   `json:"force_error"`
}

// TransferRequest moves funds between two accounts, possibly across banks.
type TransferRequest struct {
	FromUCID    string `json:"from_ucid" validate:"required"`
	ToUCID      string `json:"to_ucid" validate:"required"`
	FromAccount string `json:"from_account" validate:"required"`
	ToAccount   string `json:"to_account" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	ForceError  bool   `json:"force_error"`
}

// SagaAcceptedResponse is returned when a saga has been opened.
type SagaAcceptedResponse struct {
	SagaID    string    `json:"saga_id"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SagaStatusResponse describes one saga from the audit book plus, while
// it is still cached, the live session.
type SagaStatusResponse struct {
	SagaID       string        `json:"saga_id"`
	Operation    string        `json:"operation"`
	UCID         string        `json:"ucid,omitempty"`
	TransferType string        `json:"transfer_type,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Status       string        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Session      *SessionState `json:"session,omitempty"`
}

// SagaListResponse wraps the audit rows of all sagas.
type SagaListResponse struct {
	Items []SagaStatusResponse `json:"items"`
	Total int                  `json:"total"`
}

// SessionState is the live view of an undecided or recently decided saga.
type SessionState struct {
	Bank             string `json:"bank"`
	CounterpartyBank string `json:"counterparty_bank,omitempty"`
	Decided          bool   `json:"decided"`
	Outcome          string `json:"outcome,omitempty"`
	Reason           string `json:"reason,omitempty"`
	CreditScore      int    `json:"credit_score,omitempty"`
	CreditLimit      int64  `json:"credit_limit,omitempty"`
	AccountNumber    string `json:"account_number,omitempty"`
	CardNumber       string `json:"card_number,omitempty"`
}

// NotificationResponse is one audit row surfaced to the customer.
type NotificationResponse struct {
	SagaID       string    `json:"saga_id"`
	Operation    string    `json:"operation"`
	UCID         string    `json:"ucid,omitempty"`
	TransferType string    `json:"transfer_type,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NotificationListResponse wraps notification rows.
type NotificationListResponse struct {
	Items []NotificationResponse `json:"items"`
	Total int                    `json:"total"`
}

// AccountResponse is one ledger account at a bank.
type AccountResponse struct {
	Number    string    `json:"number"`
	UCID      string    `json:"ucid"`
	Owner     string    `json:"owner,omitempty"`
	Kind      string    `json:"kind"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountListResponse wraps the accounts of one bank.
type AccountListResponse struct {
	Bank  string            `json:"bank"`
	Items []AccountResponse `json:"items"`
	Total int               `json:"total"`
}
