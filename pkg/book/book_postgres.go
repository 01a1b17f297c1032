package book

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBook is the Book backed by a pgx connection pool. The
// notification poll selects unread rows and flips terminal ones in a
// single transaction so concurrent pollers never double-deliver.
type PostgresBook struct {
	pool *pgxpool.Pool
}

// NewPostgresBook connects a pool and verifies it with a ping.
func NewPostgresBook(ctx context.Context, connString string) (*PostgresBook, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("book: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("book: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("book: ping postgres: %w", err)
	}
	return &PostgresBook{pool: pool}, nil
}

// Migrate creates the audit table when absent.
func (b *PostgresBook) Migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS audit_book (
    saga_id       TEXT PRIMARY KEY,
    operation     TEXT NOT NULL,
    ucid          TEXT NOT NULL DEFAULT '',
    transfer_type TEXT NOT NULL DEFAULT '',
    detail        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    read_flag     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("book: migrate: %w", err)
	}
	return nil
}

// Append inserts a new PENDING row.
func (b *PostgresBook) Append(ctx context.Context, record Record) error {
	if record.SagaID == "" {
		return fmt.Errorf("book: saga id is required")
	}
	now := time.Now().UTC()
	tag, err := b.pool.Exec(ctx,
		`INSERT INTO audit_book (saga_id, operation, ucid, transfer_type, detail, status, read_flag, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7) ON CONFLICT (saga_id) DO NOTHING`,
		record.SagaID, record.Operation, record.UCID, record.TransferType, record.Detail,
		string(StatusPending), now)
	if err != nil {
		return fmt.Errorf("book: insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRecordExists, record.SagaID)
	}
	return nil
}

// UpdateStatus moves the row to the given status.
func (b *PostgresBook) UpdateStatus(ctx context.Context, sagaID string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	tag, err := b.pool.Exec(ctx,
		`UPDATE audit_book SET status = $1, updated_at = $2 WHERE saga_id = $3`,
		string(status), time.Now().UTC(), sagaID)
	if err != nil {
		return fmt.Errorf("book: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, sagaID)
	}
	return nil
}

// Get loads the row for one saga.
func (b *PostgresBook) Get(ctx context.Context, sagaID string) (Record, error) {
	record, err := scanRecord(b.pool.QueryRow(ctx,
		`SELECT saga_id, operation, ucid, transfer_type, detail, status, read_flag, created_at, updated_at
		 FROM audit_book WHERE saga_id = $1`, sagaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, sagaID)
		}
		return Record{}, fmt.Errorf("book: query record: %w", err)
	}
	return record, nil
}

// List returns all rows ordered by creation time.
func (b *PostgresBook) List(ctx context.Context) ([]Record, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT saga_id, operation, ucid, transfer_type, detail, status, read_flag, created_at, updated_at
		 FROM audit_book ORDER BY created_at, saga_id`)
	if err != nil {
		return nil, fmt.Errorf("book: list records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Notifications returns unread non-PENDING rows and marks terminal
// ones read.
func (b *PostgresBook) Notifications(ctx context.Context) ([]Record, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("book: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT saga_id, operation, ucid, transfer_type, detail, status, read_flag, created_at, updated_at
		 FROM audit_book
		 WHERE read_flag = FALSE AND status <> $1
		 ORDER BY created_at, saga_id
		 FOR UPDATE`, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("book: query notifications: %w", err)
	}
	notifications, err := collectRecords(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, record := range notifications {
		if !record.Status.IsTerminal() {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE audit_book SET read_flag = TRUE, updated_at = $1 WHERE saga_id = $2`,
			time.Now().UTC(), record.SagaID); err != nil {
			return nil, fmt.Errorf("book: mark read: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("book: commit: %w", err)
	}
	return notifications, nil
}

// Close releases the pool.
func (b *PostgresBook) Close() error {
	b.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var record Record
	var status string
	if err := row.Scan(&record.SagaID, &record.Operation, &record.UCID, &record.TransferType,
		&record.Detail, &status, &record.Read, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return Record{}, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return Record{}, err
	}
	record.Status = parsed
	return record, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	records := make([]Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
