package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sagabank/sagabank/pkg/logger"
)

// ErrAlreadyDecided indicates a confirm for an entry that was already
// cancelled, or an operation caught mid-decision.
var ErrAlreadyDecided = errors.New("ledger: journal entry already decided")

// Participant drives the journal state machine for one bank's store.
//
// Stage journals intent only; no balance changes until Confirm applies
// the operation or Cancel discards it. Calls for the same (saga id,
// kind) serialize on a per-key mutex so duplicate deliveries observe
// each other's outcome instead of racing.
type Participant struct {
	name  string
	store Store
	locks *xsync.MapOf[string, *sync.Mutex]
	log   logger.Logger
}

// NewParticipant creates a participant over the given store.
func NewParticipant(name string, store Store, log logger.Logger) *Participant {
	if log == nil {
		log = logger.Global()
	}
	return &Participant{
		name:  name,
		store: store,
		locks: xsync.NewMapOf[string, *sync.Mutex](),
		log:   log.With("participant", name),
	}
}

// Name returns the participant name used in replies.
func (p *Participant) Name() string { return p.name }

// Store exposes the underlying store for read paths.
func (p *Participant) Store() Store { return p.store }

func (p *Participant) lock(sagaID string, kind OperationKind) *sync.Mutex {
	mu, _ := p.locks.LoadOrStore(journalKey(sagaID, kind), &sync.Mutex{})
	return mu
}

// Stage validates the operation and journals it in Active status. The
// balance is untouched: a withdraw checks funds but does not debit.
// Re-staging an existing (saga id, kind) is a no-op returning the
// journaled outcome, so redelivered requests cannot double-journal.
func (p *Participant) Stage(ctx context.Context, sagaID string, kind OperationKind, accountRef string, amount int64) (Entry, error) {
	mu := p.lock(sagaID, kind)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := p.store.GetJournal(ctx, sagaID, kind); err == nil {
		p.log.DebugContext(ctx, "stage replay ignored", "saga_id", sagaID, "kind", kind, "status", existing.Status.String())
		return existing, nil
	} else if !errors.Is(err, ErrJournalNotFound) {
		return Entry{}, err
	}

	account, err := p.store.GetAccount(ctx, accountRef)
	if err != nil {
		entry := NewEntry(sagaID, kind, accountRef, amount)
		entry.Status = StatusFailedToComplete
		if putErr := p.store.PutJournal(ctx, entry); putErr != nil {
			return Entry{}, putErr
		}
		p.log.WarnContext(ctx, "stage rejected", "saga_id", sagaID, "kind", kind, "account", accountRef, "error", err)
		return entry, err
	}
	if amount <= 0 {
		return Entry{}, fmt.Errorf("ledger: stage amount must be positive, got %d", amount)
	}
	if kind == KindWithdraw && account.Balance < amount {
		entry := NewEntry(sagaID, kind, accountRef, amount)
		entry.Status = StatusFailedToComplete
		if putErr := p.store.PutJournal(ctx, entry); putErr != nil {
			return Entry{}, putErr
		}
		err := fmt.Errorf("%w: account %s balance %d, withdraw %d", ErrInsufficientFunds, accountRef, account.Balance, amount)
		p.log.WarnContext(ctx, "stage rejected", "saga_id", sagaID, "kind", kind, "account", accountRef, "error", err)
		return entry, err
	}

	entry := NewEntry(sagaID, kind, accountRef, amount)
	if err := p.store.PutJournal(ctx, entry); err != nil {
		return Entry{}, err
	}
	p.log.InfoContext(ctx, "operation staged", "saga_id", sagaID, "kind", kind, "account", accountRef, "amount", amount)
	return entry, nil
}

// RecordOpen journals an account created for a saga. The row survives a
// restart, so a later rollback can still find and remove the account.
// Recording the same saga twice returns the existing row.
func (p *Participant) RecordOpen(ctx context.Context, sagaID, accountRef string) (Entry, error) {
	mu := p.lock(sagaID, KindOpenAccount)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := p.store.GetJournal(ctx, sagaID, KindOpenAccount); err == nil {
		p.log.DebugContext(ctx, "open replay ignored", "saga_id", sagaID, "account", existing.AccountRef)
		return existing, nil
	} else if !errors.Is(err, ErrJournalNotFound) {
		return Entry{}, err
	}

	entry := NewEntry(sagaID, KindOpenAccount, accountRef, 0)
	if err := p.store.PutJournal(ctx, entry); err != nil {
		return Entry{}, err
	}
	p.log.InfoContext(ctx, "account opening journaled", "saga_id", sagaID, "account", accountRef)
	return entry, nil
}

// Confirm applies the journaled operation to the balance. Confirming a
// Completed entry is a no-op; a missing entry synthesizes a
// FailedToComplete row so the failure is auditable.
func (p *Participant) Confirm(ctx context.Context, sagaID string, kind OperationKind) (Entry, error) {
	mu := p.lock(sagaID, kind)
	mu.Lock()
	defer mu.Unlock()
	return p.confirmLocked(ctx, sagaID, kind)
}

func (p *Participant) confirmLocked(ctx context.Context, sagaID string, kind OperationKind) (Entry, error) {
	entry, err := p.store.GetJournal(ctx, sagaID, kind)
	if errors.Is(err, ErrJournalNotFound) {
		synthesized := NewEntry(sagaID, kind, "", 0)
		synthesized.Status = StatusFailedToComplete
		if putErr := p.store.PutJournal(ctx, synthesized); putErr != nil {
			return Entry{}, putErr
		}
		p.log.WarnContext(ctx, "confirm without journal entry", "saga_id", sagaID, "kind", kind)
		return synthesized, err
	}
	if err != nil {
		return Entry{}, err
	}

	switch entry.Status {
	case StatusCompleted:
		return entry, nil
	case StatusCompensating, StatusCompensated:
		return entry, fmt.Errorf("%w: saga %s kind %s is %s", ErrAlreadyDecided, sagaID, kind, entry.Status)
	case StatusFailedToComplete, StatusFailedToCompensate:
		return entry, fmt.Errorf("ledger: saga %s kind %s already failed as %s", sagaID, kind, entry.Status)
	}

	if err := p.transition(ctx, &entry, StatusCompleting); err != nil {
		return entry, err
	}

	var applyErr error
	switch entry.Kind {
	case KindDeposit:
		_, applyErr = p.store.Credit(ctx, entry.AccountRef, entry.Amount)
	case KindWithdraw:
		_, applyErr = p.store.Debit(ctx, entry.AccountRef, entry.Amount)
	case KindOpenAccount:
		// The account is live since RecordOpen; nothing left to apply.
	default:
		applyErr = fmt.Errorf("ledger: unknown operation kind %q", entry.Kind)
	}
	if applyErr != nil {
		if err := p.transition(ctx, &entry, StatusFailedToComplete); err != nil {
			return entry, err
		}
		p.log.ErrorContext(ctx, "confirm failed", "saga_id", sagaID, "kind", kind, "error", applyErr)
		return entry, applyErr
	}

	if err := p.transition(ctx, &entry, StatusCompleted); err != nil {
		return entry, err
	}
	p.log.InfoContext(ctx, "operation confirmed", "saga_id", sagaID, "kind", kind, "account", entry.AccountRef, "amount", entry.Amount)
	return entry, nil
}

// Cancel discards the journaled operation. A staged entry never touched
// the balance, so it compensates without one; a Completed entry has its
// balance delta reversed (a confirmed deposit is debited back, a
// confirmed withdraw credited back) and an open-account entry has its
// account deleted. Cancelling a Compensated entry is
// a no-op; a missing or failed-to-complete entry compensates trivially
// since there is nothing to undo.
func (p *Participant) Cancel(ctx context.Context, sagaID string, kind OperationKind) (Entry, error) {
	mu := p.lock(sagaID, kind)
	mu.Lock()
	defer mu.Unlock()
	return p.cancelLocked(ctx, sagaID, kind)
}

func (p *Participant) cancelLocked(ctx context.Context, sagaID string, kind OperationKind) (Entry, error) {
	entry, err := p.store.GetJournal(ctx, sagaID, kind)
	if errors.Is(err, ErrJournalNotFound) {
		synthesized := NewEntry(sagaID, kind, "", 0)
		synthesized.Status = StatusCompensated
		if putErr := p.store.PutJournal(ctx, synthesized); putErr != nil {
			return Entry{}, putErr
		}
		p.log.DebugContext(ctx, "cancel without journal entry", "saga_id", sagaID, "kind", kind)
		return synthesized, nil
	}
	if err != nil {
		return Entry{}, err
	}

	switch entry.Status {
	case StatusCompensated, StatusFailedToComplete:
		return entry, nil
	case StatusCompleting:
		return entry, fmt.Errorf("%w: saga %s kind %s is %s", ErrAlreadyDecided, sagaID, kind, entry.Status)
	case StatusFailedToCompensate:
		return entry, fmt.Errorf("ledger: saga %s kind %s already failed as %s", sagaID, kind, entry.Status)
	}

	// An open-account entry has its side effect from RecordOpen on, so
	// cancel reverses it even while the entry is still Active.
	reverse := entry.Status == StatusCompleted || entry.Kind == KindOpenAccount

	if err := p.transition(ctx, &entry, StatusCompensating); err != nil {
		return entry, err
	}
	if reverse {
		var reverseErr error
		switch entry.Kind {
		case KindDeposit:
			_, reverseErr = p.store.Debit(ctx, entry.AccountRef, entry.Amount)
		case KindWithdraw:
			_, reverseErr = p.store.Credit(ctx, entry.AccountRef, entry.Amount)
		case KindOpenAccount:
			reverseErr = p.store.DeleteAccount(ctx, entry.AccountRef)
		default:
			reverseErr = fmt.Errorf("ledger: unknown operation kind %q", entry.Kind)
		}
		if reverseErr != nil {
			if err := p.transition(ctx, &entry, StatusFailedToCompensate); err != nil {
				return entry, err
			}
			p.log.ErrorContext(ctx, "compensation failed", "saga_id", sagaID, "kind", kind, "account", entry.AccountRef, "error", reverseErr)
			return entry, reverseErr
		}
	}
	if err := p.transition(ctx, &entry, StatusCompensated); err != nil {
		return entry, err
	}
	p.log.InfoContext(ctx, "operation cancelled", "saga_id", sagaID, "kind", kind, "account", entry.AccountRef, "reversed", reverse)
	return entry, nil
}

// ConfirmTransfer confirms the withdraw and deposit legs of a same-bank
// transfer atomically: both balances move in one store transaction, then
// both journal entries complete.
func (p *Participant) ConfirmTransfer(ctx context.Context, sagaID string) error {
	withdrawMu := p.lock(sagaID, KindWithdraw)
	depositMu := p.lock(sagaID, KindDeposit)
	withdrawMu.Lock()
	defer withdrawMu.Unlock()
	depositMu.Lock()
	defer depositMu.Unlock()

	withdraw, err := p.store.GetJournal(ctx, sagaID, KindWithdraw)
	if err != nil {
		return err
	}
	deposit, err := p.store.GetJournal(ctx, sagaID, KindDeposit)
	if err != nil {
		return err
	}
	if withdraw.Status == StatusCompleted && deposit.Status == StatusCompleted {
		return nil
	}
	if withdraw.Status != StatusActive || deposit.Status != StatusActive {
		return fmt.Errorf("%w: saga %s transfer legs are %s/%s", ErrAlreadyDecided, sagaID, withdraw.Status, deposit.Status)
	}

	if err := p.transition(ctx, &withdraw, StatusCompleting); err != nil {
		return err
	}
	if err := p.transition(ctx, &deposit, StatusCompleting); err != nil {
		return err
	}
	if err := p.store.Transfer(ctx, withdraw.AccountRef, deposit.AccountRef, withdraw.Amount); err != nil {
		_ = p.transition(ctx, &withdraw, StatusFailedToComplete)
		_ = p.transition(ctx, &deposit, StatusFailedToComplete)
		p.log.ErrorContext(ctx, "transfer confirm failed", "saga_id", sagaID, "error", err)
		return err
	}
	if err := p.transition(ctx, &withdraw, StatusCompleted); err != nil {
		return err
	}
	if err := p.transition(ctx, &deposit, StatusCompleted); err != nil {
		return err
	}
	p.log.InfoContext(ctx, "transfer confirmed", "saga_id", sagaID,
		"from", withdraw.AccountRef, "to", deposit.AccountRef, "amount", withdraw.Amount)
	return nil
}

// CancelTransfer cancels both legs of a same-bank transfer. A confirmed
// transfer is reversed the way it was applied: one store transaction
// moving the funds back, then both journal entries compensate.
func (p *Participant) CancelTransfer(ctx context.Context, sagaID string) error {
	withdrawMu := p.lock(sagaID, KindWithdraw)
	depositMu := p.lock(sagaID, KindDeposit)
	withdrawMu.Lock()
	defer withdrawMu.Unlock()
	depositMu.Lock()
	defer depositMu.Unlock()

	withdraw, withdrawErr := p.store.GetJournal(ctx, sagaID, KindWithdraw)
	deposit, depositErr := p.store.GetJournal(ctx, sagaID, KindDeposit)
	if withdrawErr == nil && depositErr == nil &&
		withdraw.Status == StatusCompleted && deposit.Status == StatusCompleted {
		if err := p.transition(ctx, &withdraw, StatusCompensating); err != nil {
			return err
		}
		if err := p.transition(ctx, &deposit, StatusCompensating); err != nil {
			return err
		}
		if err := p.store.Transfer(ctx, deposit.AccountRef, withdraw.AccountRef, withdraw.Amount); err != nil {
			_ = p.transition(ctx, &withdraw, StatusFailedToCompensate)
			_ = p.transition(ctx, &deposit, StatusFailedToCompensate)
			p.log.ErrorContext(ctx, "transfer compensation failed", "saga_id", sagaID, "error", err)
			return err
		}
		if err := p.transition(ctx, &withdraw, StatusCompensated); err != nil {
			return err
		}
		if err := p.transition(ctx, &deposit, StatusCompensated); err != nil {
			return err
		}
		p.log.InfoContext(ctx, "transfer compensated", "saga_id", sagaID,
			"from", deposit.AccountRef, "to", withdraw.AccountRef, "amount", withdraw.Amount)
		return nil
	}

	if _, err := p.cancelLocked(ctx, sagaID, KindWithdraw); err != nil {
		return err
	}
	if _, err := p.cancelLocked(ctx, sagaID, KindDeposit); err != nil {
		return err
	}
	return nil
}

// Status reports the journaled status for (saga id, kind).
func (p *Participant) Status(ctx context.Context, sagaID string, kind OperationKind) (ParticipantStatus, error) {
	entry, err := p.store.GetJournal(ctx, sagaID, kind)
	if err != nil {
		return 0, err
	}
	return entry.Status, nil
}

func (p *Participant) transition(ctx context.Context, entry *Entry, next ParticipantStatus) error {
	if err := entry.Transition(next); err != nil {
		return err
	}
	return p.store.PutJournal(ctx, *entry)
}
