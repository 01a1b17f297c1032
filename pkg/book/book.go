// Package book keeps the per-saga audit trail and feeds the
// notification poll. Rows move PENDING -> ONGOING -> COMPLETED|FAILED
// and are retained after the terminal transition.
package book

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrRecordNotFound indicates no audit row for the saga id.
	ErrRecordNotFound = errors.New("book: record not found")
	// ErrRecordExists indicates a duplicate append for the saga id.
	ErrRecordExists = errors.New("book: record already exists")
)

// Status is the audit row lifecycle status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOngoing   Status = "ONGOING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus rejects anything outside the closed status set.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusPending, StatusOngoing, StatusCompleted, StatusFailed:
		return Status(value), nil
	default:
		return "", fmt.Errorf("book: unknown status %q", value)
	}
}

// IsTerminal reports whether the status is COMPLETED or FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transfer types recorded on transact rows.
const (
	TransferIntraBank = "INTRA-BANK"
	TransferInterBank = "INTER-BANK"
)

// Record is one audit row, keyed by saga id.
type Record struct {
	SagaID       string    `json:"saga_id"`
	Operation    string    `json:"operation"`
	UCID         string    `json:"ucid,omitempty"`
	TransferType string    `json:"transfer_type,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Status       Status    `json:"status"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Book persists audit rows and serves the notification poll.
type Book interface {
	// Append inserts a new PENDING row for the saga.
	Append(ctx context.Context, record Record) error
	// UpdateStatus moves the row to the given status.
	UpdateStatus(ctx context.Context, sagaID string, status Status) error
	// Get returns the row for one saga.
	Get(ctx context.Context, sagaID string) (Record, error)
	// List returns all rows ordered by creation time.
	List(ctx context.Context) ([]Record, error)
	// Notifications returns unread rows whose status is past PENDING.
	// Terminal rows are marked read; ONGOING rows stay unread so they
	// surface again after their terminal transition.
	Notifications(ctx context.Context) ([]Record, error)

	Close() error
}

// MemoryBook is the in-memory Book used for tests and single-node demos.
type MemoryBook struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryBook creates an empty in-memory book.
func NewMemoryBook() *MemoryBook {
	return &MemoryBook{records: make(map[string]Record)}
}

// Append inserts a new PENDING row.
func (b *MemoryBook) Append(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.SagaID == "" {
		return fmt.Errorf("book: saga id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[record.SagaID]; ok {
		return fmt.Errorf("%w: %s", ErrRecordExists, record.SagaID)
	}
	now := time.Now().UTC()
	record.Status = StatusPending
	record.Read = false
	record.CreatedAt = now
	record.UpdatedAt = now
	b.records[record.SagaID] = record
	return nil
}

// UpdateStatus moves the row to the given status.
func (b *MemoryBook) UpdateStatus(ctx context.Context, sagaID string, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.records[sagaID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, sagaID)
	}
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	b.records[sagaID] = record
	return nil
}

// Get returns the row for one saga.
func (b *MemoryBook) Get(ctx context.Context, sagaID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.records[sagaID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, sagaID)
	}
	return record, nil
}

// List returns all rows ordered by creation time.
func (b *MemoryBook) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	records := make([]Record, 0, len(b.records))
	for _, record := range b.records {
		records = append(records, record)
	}
	sortRecords(records)
	return records, nil
}

// Notifications returns unread non-PENDING rows and marks terminal
// ones read.
func (b *MemoryBook) Notifications(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	notifications := make([]Record, 0)
	for sagaID, record := range b.records {
		if record.Read || record.Status == StatusPending {
			continue
		}
		notifications = append(notifications, record)
		if record.Status.IsTerminal() {
			record.Read = true
			b.records[sagaID] = record
		}
	}
	sortRecords(notifications)
	return notifications, nil
}

// Close is a no-op for the in-memory book.
func (b *MemoryBook) Close() error { return nil }

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].SagaID < records[j].SagaID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
