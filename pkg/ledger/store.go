package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrAccountNotFound indicates the account reference does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountExists indicates an account number collision on create.
	ErrAccountExists = errors.New("ledger: account already exists")
	// ErrInsufficientFunds indicates a debit larger than the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrJournalNotFound indicates no journal row for (saga id, kind).
	ErrJournalNotFound = errors.New("ledger: journal entry not found")
	// ErrAmbiguousAccount indicates a customer lookup matched several accounts.
	ErrAmbiguousAccount = errors.New("ledger: ambiguous account for customer")
)

// AccountKind separates deposit accounts from credit card accounts.
type AccountKind string

const (
	AccountChecking AccountKind = "checking"
	AccountCredit   AccountKind = "credit"
)

// Account is a balance-bearing record. Credit cards are accounts of kind
// credit whose balance holds the available credit limit.
type Account struct {
	Number    string      `json:"number"`
	UCID      string      `json:"ucid"`
	Owner     string      `json:"owner"`
	Kind      AccountKind `json:"kind"`
	Balance   int64       `json:"balance"`
	CreatedAt time.Time   `json:"created_at"`
}

// Store persists accounts and the write-ahead journal for one bank.
//
// Credit, Debit and Transfer are the only balance mutations and each is
// atomic: a failed Debit or Transfer leaves every balance untouched.
// Amounts are minor-unit integers and always positive.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, number string) (Account, error)
	// FindAccountByUCID resolves the single account of the given kind owned
	// by the customer. More than one match is an ErrAmbiguousAccount.
	FindAccountByUCID(ctx context.Context, ucid string, kind AccountKind) (Account, error)
	DeleteAccount(ctx context.Context, number string) error
	ListAccounts(ctx context.Context) ([]Account, error)

	Credit(ctx context.Context, number string, amount int64) (int64, error)
	Debit(ctx context.Context, number string, amount int64) (int64, error)
	Transfer(ctx context.Context, from, to string, amount int64) error

	PutJournal(ctx context.Context, entry Entry) error
	GetJournal(ctx context.Context, sagaID string, kind OperationKind) (Entry, error)
	UpdateJournalStatus(ctx context.Context, sagaID string, kind OperationKind, status ParticipantStatus) error
	ListJournal(ctx context.Context, sagaID string) ([]Entry, error)

	Close() error
}

// MemoryStore is the in-memory Store used for tests and single-node demos.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	journal  map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		journal:  make(map[string]Entry),
	}
}

func journalKey(sagaID string, kind OperationKind) string {
	return sagaID + "/" + string(kind)
}

// CreateAccount inserts a new account.
func (s *MemoryStore) CreateAccount(ctx context.Context, account Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if account.Number == "" {
		return fmt.Errorf("ledger: account number is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.Number]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, account.Number)
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	s.accounts[account.Number] = account
	return nil
}

// GetAccount returns the account for the given number.
func (s *MemoryStore) GetAccount(ctx context.Context, number string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[number]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	return account, nil
}

// FindAccountByUCID resolves a customer's account of one kind.
func (s *MemoryStore) FindAccountByUCID(ctx context.Context, ucid string, kind AccountKind) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Account
	for number := range s.accounts {
		account := s.accounts[number]
		if account.UCID != ucid || account.Kind != kind {
			continue
		}
		if found != nil {
			return Account{}, fmt.Errorf("%w: ucid %s kind %s", ErrAmbiguousAccount, ucid, kind)
		}
		found = &account
	}
	if found == nil {
		return Account{}, fmt.Errorf("%w: ucid %s kind %s", ErrAccountNotFound, ucid, kind)
	}
	return *found, nil
}

// DeleteAccount removes the account.
func (s *MemoryStore) DeleteAccount(ctx context.Context, number string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[number]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	delete(s.accounts, number)
	return nil
}

// ListAccounts returns all accounts ordered by number.
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Number < accounts[j].Number })
	return accounts, nil
}

// Credit adds amount to the balance and returns the new balance.
func (s *MemoryStore) Credit(ctx context.Context, number string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: credit amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[number]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	account.Balance += amount
	s.accounts[number] = account
	return account.Balance, nil
}

// Debit subtracts amount from the balance and returns the new balance.
func (s *MemoryStore) Debit(ctx context.Context, number string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: debit amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[number]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	if account.Balance < amount {
		return 0, fmt.Errorf("%w: account %s balance %d, debit %d", ErrInsufficientFunds, number, account.Balance, amount)
	}
	account.Balance -= amount
	s.accounts[number] = account
	return account.Balance, nil
}

// Transfer moves amount between two accounts under one lock so both legs
// apply or neither does.
func (s *MemoryStore) Transfer(ctx context.Context, from, to string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: transfer amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, from)
	}
	target, ok := s.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
	}
	if source.Balance < amount {
		return fmt.Errorf("%w: account %s balance %d, debit %d", ErrInsufficientFunds, from, source.Balance, amount)
	}
	source.Balance -= amount
	target.Balance += amount
	s.accounts[from] = source
	s.accounts[to] = target
	return nil
}

// PutJournal inserts or replaces the journal entry for (saga id, kind).
func (s *MemoryStore) PutJournal(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.SagaID == "" {
		return fmt.Errorf("ledger: journal saga id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal[journalKey(entry.SagaID, entry.Kind)] = entry
	return nil
}

// GetJournal returns the journal entry for (saga id, kind).
func (s *MemoryStore) GetJournal(ctx context.Context, sagaID string, kind OperationKind) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.journal[journalKey(sagaID, kind)]
	if !ok {
		return Entry{}, fmt.Errorf("%w: saga %s kind %s", ErrJournalNotFound, sagaID, kind)
	}
	return entry, nil
}

// UpdateJournalStatus transitions the stored entry to the given status.
func (s *MemoryStore) UpdateJournalStatus(ctx context.Context, sagaID string, kind OperationKind, status ParticipantStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := journalKey(sagaID, kind)
	entry, ok := s.journal[key]
	if !ok {
		return fmt.Errorf("%w: saga %s kind %s", ErrJournalNotFound, sagaID, kind)
	}
	if err := entry.Transition(status); err != nil {
		return err
	}
	s.journal[key] = entry
	return nil
}

// ListJournal returns all journal entries for one saga ordered by creation.
func (s *MemoryStore) ListJournal(ctx context.Context, sagaID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, 2)
	for _, entry := range s.journal {
		if entry.SagaID == sagaID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
