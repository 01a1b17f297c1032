package book

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const recordKeyPrefix = "book:"

// BadgerBook is the durable Book backed by Badger.
type BadgerBook struct {
	db *badger.DB
}

// NewBadgerBook creates a Badger-backed book.
func NewBadgerBook(db *badger.DB) (*BadgerBook, error) {
	if db == nil {
		return nil, fmt.Errorf("book: badger db cannot be nil")
	}
	return &BadgerBook{db: db}, nil
}

func recordKey(sagaID string) []byte {
	return []byte(recordKeyPrefix + sagaID)
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Append inserts a new PENDING row at "book:{sagaID}".
func (b *BadgerBook) Append(ctx context.Context, record Record) error {
	if record.SagaID == "" {
		return fmt.Errorf("book: saga id is required")
	}
	now := time.Now().UTC()
	record.Status = StatusPending
	record.Read = false
	record.CreatedAt = now
	record.UpdatedAt = now
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if _, err := txn.Get(recordKey(record.SagaID)); err == nil {
			return fmt.Errorf("%w: %s", ErrRecordExists, record.SagaID)
		}
		return txn.Set(recordKey(record.SagaID), data)
	})
}

// UpdateStatus moves the row to the given status.
func (b *BadgerBook) UpdateStatus(ctx context.Context, sagaID string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		record, err := getRecordInTxn(txn, sagaID)
		if err != nil {
			return err
		}
		record.Status = status
		record.UpdatedAt = time.Now().UTC()
		return setRecordInTxn(txn, record)
	})
}

// Get loads the row for one saga.
func (b *BadgerBook) Get(ctx context.Context, sagaID string) (Record, error) {
	var record Record
	err := b.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		found, err := getRecordInTxn(txn, sagaID)
		if err != nil {
			return err
		}
		record = found
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// List returns all rows ordered by creation time.
func (b *BadgerBook) List(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var record Record
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &record) }); err != nil {
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

// Notifications returns unread non-PENDING rows and marks terminal
// ones read.
func (b *BadgerBook) Notifications(ctx context.Context) ([]Record, error) {
	notifications := make([]Record, 0)
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var record Record
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &record) }); err != nil {
				continue
			}
			if record.Read || record.Status == StatusPending {
				continue
			}
			notifications = append(notifications, record)
			if record.Status.IsTerminal() {
				record.Read = true
				record.UpdatedAt = time.Now().UTC()
				if err := setRecordInTxn(txn, record); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(notifications)
	return notifications, nil
}

// Close closes the underlying database.
func (b *BadgerBook) Close() error { return b.db.Close() }

func getRecordInTxn(txn *badger.Txn, sagaID string) (Record, error) {
	item, err := txn.Get(recordKey(sagaID))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, sagaID)
		}
		return Record{}, err
	}
	var record Record
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &record) }); err != nil {
		return Record{}, err
	}
	return record, nil
}

func setRecordInTxn(txn *badger.Txn, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return txn.Set(recordKey(record.SagaID), data)
}
