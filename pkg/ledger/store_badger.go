package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	accountKeyPrefix  = "account:"
	accountUCIDPrefix = "account:index:ucid:"
	journalKeyPrefix  = "journal:"
	journalSagaPrefix = "journal:index:saga:"
)

// BadgerStore is the durable single-node Store backed by Badger.
//
// Badger transactions give per-key atomicity; the balance mutations
// additionally serialize on balanceMu so Transfer applies both legs
// without a concurrent Debit slipping between them.
type BadgerStore struct {
	db        *badger.DB
	balanceMu sync.Mutex
}

// NewBadgerStore creates a Badger-backed store.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: badger db cannot be nil")
	}
	return &BadgerStore{db: db}, nil
}

func accountDataKey(number string) string {
	return accountKeyPrefix + number
}

func accountUCIDKey(ucid string, kind AccountKind, number string) string {
	return accountUCIDPrefix + ucid + ":" + string(kind) + ":" + number
}

func journalDataKey(sagaID string, kind OperationKind) string {
	return journalKeyPrefix + sagaID + ":" + string(kind)
}

func journalSagaIndexKey(sagaID string, kind OperationKind) string {
	return journalSagaPrefix + sagaID + ":" + string(kind)
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// CreateAccount persists one account at "account:{number}" plus a ucid index.
func (s *BadgerStore) CreateAccount(ctx context.Context, account Account) error {
	if account.Number == "" {
		return fmt.Errorf("ledger: account number is required")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if _, err := txn.Get([]byte(accountDataKey(account.Number))); err == nil {
			return fmt.Errorf("%w: %s", ErrAccountExists, account.Number)
		}
		if err := txn.Set([]byte(accountDataKey(account.Number)), data); err != nil {
			return err
		}
		return txn.Set([]byte(accountUCIDKey(account.UCID, account.Kind, account.Number)), []byte{})
	})
}

// GetAccount loads one account by number.
func (s *BadgerStore) GetAccount(ctx context.Context, number string) (Account, error) {
	var account Account
	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		item, err := txn.Get([]byte(accountDataKey(number)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %s", ErrAccountNotFound, number)
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &account) })
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// FindAccountByUCID scans the ucid index for the customer's account of one kind.
func (s *BadgerStore) FindAccountByUCID(ctx context.Context, ucid string, kind AccountKind) (Account, error) {
	var numbers []string
	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		prefix := accountUCIDPrefix + ucid + ":" + string(kind) + ":"
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			numbers = append(numbers, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	if err != nil {
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

// DeleteAccount removes one account and its ucid index.
func (s *BadgerStore) DeleteAccount(ctx context.Context, number string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		item, err := txn.Get([]byte(accountDataKey(number)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %s", ErrAccountNotFound, number)
			}
			return err
		}
		var account Account
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &account) }); err != nil {
			return err
		}
		if err := txn.Delete([]byte(accountDataKey(number))); err != nil {
			return err
		}
		_ = txn.Delete([]byte(accountUCIDKey(account.UCID, account.Kind, number)))
		return nil
	})
}

// ListAccounts returns every account ordered by number.
func (s *BadgerStore) ListAccounts(ctx context.Context) ([]Account, error) {
	accounts := make([]Account, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(accountKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if strings.HasPrefix(key, accountUCIDPrefix) {
				continue
			}
			var account Account
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &account) }); err != nil {
				continue
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Credit adds amount to the balance and returns the new balance.
func (s *BadgerStore) Credit(ctx context.Context, number string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: credit amount must be positive, got %d", amount)
	}
	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()
	return s.adjustBalance(ctx, number, amount)
}

// Debit subtracts amount from the balance and returns the new balance.
func (s *BadgerStore) Debit(ctx context.Context, number string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: debit amount must be positive, got %d", amount)
	}
	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()
	return s.adjustBalance(ctx, number, -amount)
}

// Transfer applies the debit and credit legs in one Badger transaction.
func (s *BadgerStore) Transfer(ctx context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: transfer amount must be positive, got %d", amount)
	}
	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		source, err := getAccountInTxn(txn, from)
		if err != nil {
			return err
		}
		target, err := getAccountInTxn(txn, to)
		if err != nil {
			return err
		}
		if source.Balance < amount {
			return fmt.Errorf("%w: account %s balance %d, debit %d", ErrInsufficientFunds, from, source.Balance, amount)
		}
		source.Balance -= amount
		target.Balance += amount
		if err := setAccountInTxn(txn, source); err != nil {
			return err
		}
		return setAccountInTxn(txn, target)
	})
}

func (s *BadgerStore) adjustBalance(ctx context.Context, number string, delta int64) (int64, error) {
	var balance int64
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		account, err := getAccountInTxn(txn, number)
		if err != nil {
			return err
		}
		if account.Balance+delta < 0 {
			return fmt.Errorf("%w: account %s balance %d, debit %d", ErrInsufficientFunds, number, account.Balance, -delta)
		}
		account.Balance += delta
		balance = account.Balance
		return setAccountInTxn(txn, account)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func getAccountInTxn(txn *badger.Txn, number string) (Account, error) {
	item, err := txn.Get([]byte(accountDataKey(number)))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
		}
		return Account{}, err
	}
	var account Account
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &account) }); err != nil {
		return Account{}, err
	}
	return account, nil
}

func setAccountInTxn(txn *badger.Txn, account Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return txn.Set([]byte(accountDataKey(account.Number)), data)
}

// PutJournal persists one journal entry keyed by (saga id, kind).
func (s *BadgerStore) PutJournal(ctx context.Context, entry Entry) error {
	if entry.SagaID == "" {
		return fmt.Errorf("ledger: journal saga id is required")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if err := txn.Set([]byte(journalDataKey(entry.SagaID, entry.Kind)), data); err != nil {
			return err
		}
		return txn.Set([]byte(journalSagaIndexKey(entry.SagaID, entry.Kind)), []byte{})
	})
}

// GetJournal loads one journal entry by (saga id, kind).
func (s *BadgerStore) GetJournal(ctx context.Context, sagaID string, kind OperationKind) (Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		item, err := txn.Get([]byte(journalDataKey(sagaID, kind)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: saga %s kind %s", ErrJournalNotFound, sagaID, kind)
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &entry) })
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// UpdateJournalStatus transitions the stored entry to the given status.
func (s *BadgerStore) UpdateJournalStatus(ctx context.Context, sagaID string, kind OperationKind, status ParticipantStatus) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		item, err := txn.Get([]byte(journalDataKey(sagaID, kind)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: saga %s kind %s", ErrJournalNotFound, sagaID, kind)
			}
			return err
		}
		var entry Entry
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &entry) }); err != nil {
			return err
		}
		if err := entry.Transition(status); err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set([]byte(journalDataKey(sagaID, kind)), data)
	})
}

// ListJournal returns all entries for one saga via the saga index.
func (s *BadgerStore) ListJournal(ctx context.Context, sagaID string) ([]Entry, error) {
	entries := make([]Entry, 0, 2)
	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		prefix := journalSagaPrefix + sagaID + ":"
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			kind := strings.TrimPrefix(string(it.Item().Key()), prefix)
			item, err := txn.Get([]byte(journalDataKey(sagaID, OperationKind(kind))))
			if err != nil {
				continue
			}
			var entry Entry
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &entry) }); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error { return s.db.Close() }
