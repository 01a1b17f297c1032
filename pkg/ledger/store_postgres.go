package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Store backed by a pgx connection pool. Balance
// mutations run inside transactions with SELECT ... FOR UPDATE; Transfer
// locks rows in account-number order to avoid deadlocks between
// concurrent opposite-direction transfers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the account and journal tables when absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
    number     TEXT PRIMARY KEY,
    ucid       TEXT NOT NULL,
    owner      TEXT NOT NULL,
    kind       TEXT NOT NULL,
    balance    BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS accounts_ucid_kind_idx ON accounts (ucid, kind);
CREATE TABLE IF NOT EXISTS journal (
    id         TEXT NOT NULL,
    saga_id    TEXT NOT NULL,
    kind       TEXT NOT NULL,
    account_ref TEXT NOT NULL,
    amount     BIGINT NOT NULL,
    status     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (saga_id, kind)
);`)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// CreateAccount inserts a new account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	if account.Number == "" {
		return fmt.Errorf("ledger: account number is required")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (number, ucid, owner, kind, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (number) DO NOTHING`,
		account.Number, account.UCID, account.Owner, string(account.Kind), account.Balance, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, account.Number)
	}
	return nil
}

// GetAccount retrieves one account by number.
func (s *PostgresStore) GetAccount(ctx context.Context, number string) (Account, error) {
	var account Account
	var kind string
	err := s.pool.QueryRow(ctx,
		`SELECT number, ucid, owner, kind, balance, created_at FROM accounts WHERE number = $1`,
		number).Scan(&account.Number, &account.UCID, &account.Owner, &kind, &account.Balance, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
		}
		return Account{}, fmt.Errorf("ledger: query account: %w", err)
	}
	account.Kind = AccountKind(kind)
	return account, nil
}

// FindAccountByUCID resolves a customer's account of one kind.
func (s *PostgresStore) FindAccountByUCID(ctx context.Context, ucid string, kind AccountKind) (Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT number FROM accounts WHERE ucid = $1 AND kind = $2 LIMIT 2`,
		ucid, string(kind))
	if err != nil {
		return Account{}, fmt.Errorf("ledger: query accounts by ucid: %w", err)
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return Account{}, err
		}
		numbers = append(numbers, number)
	}
	if err := rows.Err(); err != nil {
		return Account{}, err
	}
	switch len(numbers) {
	case 0:
		return Account{}, fmt.Errorf("%w: ucid %s kind %s", ErrAccountNotFound, ucid, kind)
	case 1:
		return s.GetAccount(ctx, numbers[0])
	default:
		return Account{}, fmt.Errorf("%w: ucid %s kind %s", ErrAmbiguousAccount, ucid, kind)
	}
}

// DeleteAccount removes one account row.
func (s *PostgresStore) DeleteAccount(ctx context.Context, number string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE number = $1`, number)
	if err != nil {
		return fmt.Errorf("ledger: delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	return nil
}

// ListAccounts returns every account ordered by number.
func (s *PostgresStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT number, ucid, owner, kind, balance, created_at FROM accounts ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list accounts: %w", err)
	}
	defer rows.Close()
	accounts := make([]Account, 0)
	for rows.Next() {
		var account Account
		var kind string
		if err := rows.Scan(&account.Number, &account.UCID, &account.Owner, &kind, &account.Balance, &account.CreatedAt); err != nil {
			return nil, err
		}
		account.Kind = AccountKind(kind)
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// Credit adds amount to the balance and returns the new balance.
func (s *PostgresStore) Credit(ctx context.Context, number string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: credit amount must be positive, got %d", amount)
	}
	return s.adjustBalance(ctx, number, amount)
}

// Debit subtracts amount from the balance and returns the new balance.
func (s *PostgresStore) Debit(ctx context.Context, number string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: debit amount must be positive, got %d", amount)
	}
	return s.adjustBalance(ctx, number, -amount)
}

func (s *PostgresStore) adjustBalance(ctx context.Context, number string, delta int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE number = $1 FOR UPDATE`, number).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
		}
		return 0, fmt.Errorf("ledger: lock account: %w", err)
	}
	if balance+delta < 0 {
		return 0, fmt.Errorf("%w: account %s balance %d, debit %d", ErrInsufficientFunds, number, balance, -delta)
	}
	balance += delta
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1 WHERE number = $2`, balance, number); err != nil {
		return 0, fmt.Errorf("ledger: update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}
	return balance, nil
}

// Transfer applies both legs in one transaction, locking rows in
// account-number order.
func (s *PostgresStore) Transfer(ctx context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: transfer amount must be positive, got %d", amount)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	balances := make(map[string]int64, 2)
	for _, number := range []string{first, second} {
		var balance int64
		err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE number = $1 FOR UPDATE`, number).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrAccountNotFound, number)
			}
			return fmt.Errorf("ledger: lock account: %w", err)
		}
		balances[number] = balance
	}
	if balances[from] < amount {
		return fmt.Errorf("%w: account %s balance %d, debit %d", ErrInsufficientFunds, from, balances[from], amount)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1 WHERE number = $2`, amount, from); err != nil {
		return fmt.Errorf("ledger: debit leg: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE number = $2`, amount, to); err != nil {
		return fmt.Errorf("ledger: credit leg: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// PutJournal upserts one journal entry keyed by (saga id, kind).
func (s *PostgresStore) PutJournal(ctx context.Context, entry Entry) error {
	if entry.SagaID == "" {
		return fmt.Errorf("ledger: journal saga id is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal (id, saga_id, kind, account_ref, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (saga_id, kind) DO UPDATE
		 SET account_ref = EXCLUDED.account_ref, amount = EXCLUDED.amount,
		     status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		entry.ID, entry.SagaID, string(entry.Kind), entry.AccountRef, entry.Amount,
		entry.Status.String(), entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: put journal: %w", err)
	}
	return nil
}

// GetJournal loads one journal entry by (saga id, kind).
func (s *PostgresStore) GetJournal(ctx context.Context, sagaID string, kind OperationKind) (Entry, error) {
	var entry Entry
	var kindStr, statusStr string
	err := s.pool.QueryRow(ctx,
		`SELECT id, saga_id, kind, account_ref, amount, status, created_at, updated_at
		 FROM journal WHERE saga_id = $1 AND kind = $2`,
		sagaID, string(kind)).Scan(&entry.ID, &entry.SagaID, &kindStr, &entry.AccountRef,
		&entry.Amount, &statusStr, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, fmt.Errorf("%w: saga %s kind %s", ErrJournalNotFound, sagaID, kind)
		}
		return Entry{}, fmt.Errorf("ledger: query journal: %w", err)
	}
	entry.Kind = OperationKind(kindStr)
	status, err := ParseParticipantStatus(statusStr)
	if err != nil {
		return Entry{}, err
	}
	entry.Status = status
	return entry, nil
}

// UpdateJournalStatus transitions the stored entry to the given status.
func (s *PostgresStore) UpdateJournalStatus(ctx context.Context, sagaID string, kind OperationKind, status ParticipantStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var statusStr string
	err = tx.QueryRow(ctx,
		`SELECT status FROM journal WHERE saga_id = $1 AND kind = $2 FOR UPDATE`,
		sagaID, string(kind)).Scan(&statusStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: saga %s kind %s", ErrJournalNotFound, sagaID, kind)
		}
		return fmt.Errorf("ledger: lock journal: %w", err)
	}
	current, err := ParseParticipantStatus(statusStr)
	if err != nil {
		return err
	}
	if err := ValidateTransition(current, status); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE journal SET status = $1, updated_at = $2 WHERE saga_id = $3 AND kind = $4`,
		status.String(), time.Now().UTC(), sagaID, string(kind)); err != nil {
		return fmt.Errorf("ledger: update journal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// ListJournal returns all entries for one saga ordered by creation.
func (s *PostgresStore) ListJournal(ctx context.Context, sagaID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, saga_id, kind, account_ref, amount, status, created_at, updated_at
		 FROM journal WHERE saga_id = $1 ORDER BY created_at`,
		sagaID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list journal: %w", err)
	}
	defer rows.Close()
	entries := make([]Entry, 0, 2)
	for rows.Next() {
		var entry Entry
		var kindStr, statusStr string
		if err := rows.Scan(&entry.ID, &entry.SagaID, &kindStr, &entry.AccountRef,
			&entry.Amount, &statusStr, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		entry.Kind = OperationKind(kindStr)
		status, err := ParseParticipantStatus(statusStr)
		if err != nil {
			return nil, err
		}
		entry.Status = status
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
