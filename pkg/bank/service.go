// Package bank implements a bank participant: it stages ledger work
// for saga requests, replies to the initiator, and confirms or cancels
// the staged work when the terminal signal arrives.
package bank

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sagabank/sagabank/pkg/eventbus"
	"github.com/sagabank/sagabank/pkg/ledger"
	"github.com/sagabank/sagabank/pkg/logger"
	"github.com/sagabank/sagabank/pkg/metrics"
)

// Bus is the transport the service consumes requests and signals from.
type Bus interface {
	eventbus.Transport
	Subscribe(pattern string, buffer int) (*eventbus.Subscription, error)
}

// Option customizes Service initialization.
type Option func(s *Service)

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics wires the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRetryConfig sets the publish retry policy.
func WithRetryConfig(retry eventbus.RetryConfig) Option {
	return func(s *Service) {
		s.retry = retry
	}
}

// pendingWork tracks the journaled kinds a saga staged at this bank so
// the terminal signal knows what to confirm or cancel. The journal
// itself is the durable copy; see takeWork.
type pendingWork struct {
	kinds    []ledger.OperationKind
	transact bool
}

// Service is one bank participant on the bus.
type Service struct {
	name        string
	initiator   string
	bus         Bus
	publisher   *eventbus.Publisher
	consumer    *eventbus.Consumer
	participant *ledger.Participant
	store       ledger.Store
	retry       eventbus.RetryConfig

	metrics *metrics.Manager
	log     logger.Logger

	pending *xsync.MapOf[string, *pendingWork]
	sub     *eventbus.Subscription
	wg      sync.WaitGroup
	once    sync.Once
}

// NewService creates a bank participant replying to the named initiator.
func NewService(name, initiator string, bus Bus, store ledger.Store, options ...Option) (*Service, error) {
	if name == "" || initiator == "" {
		return nil, fmt.Errorf("bank: name and initiator are required")
	}
	if bus == nil || store == nil {
		return nil, fmt.Errorf("bank: bus and store are required")
	}

	s := &Service{
		name:      name,
		initiator: initiator,
		bus:       bus,
		consumer:  eventbus.NewConsumer(),
		store:     store,
		retry:     eventbus.DefaultRetryConfig(),
		metrics:   metrics.NoOpManager(),
		log:       logger.Global(),
		pending:   xsync.NewMapOf[string, *pendingWork](),
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	s.log = s.log.With("bank", name)
	s.participant = ledger.NewParticipant(name, store, s.log)

	publisher, err := eventbus.NewPublisher(name, bus, s.retry, s.metrics)
	if err != nil {
		return nil, err
	}
	s.publisher = publisher
	return s, nil
}

// Name returns the participant name.
func (s *Service) Name() string { return s.name }

// Store exposes the ledger store for the read paths and the seeder.
func (s *Service) Store() ledger.Store { return s.store }

// Run consumes requests and signals until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sub, err := s.bus.Subscribe(eventbus.ParticipantWildcard(s.name), 256)
	if err != nil {
		return err
	}
	s.sub = sub

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				envelope, duplicate, err := s.consumer.Decode(msg.Payload)
				if err != nil {
					s.log.WarnContext(ctx, "discarding malformed message", "error", err)
					continue
				}
				if duplicate {
					s.log.DebugContext(ctx, "duplicate message suppressed", "saga_id", envelope.SagaID, "event_id", envelope.EventID)
					continue
				}
				s.handleEnvelope(ctx, envelope)
			}
		}
	}()
	return nil
}

// Close stops message consumption.
func (s *Service) Close() error {
	s.once.Do(func() {
		if s.sub != nil {
			_ = s.sub.Close()
		}
	})
	s.wg.Wait()
	return nil
}

func (s *Service) handleEnvelope(ctx context.Context, envelope eventbus.Envelope) {
	switch envelope.Kind {
	case eventbus.KindRequest:
		s.handleRequest(ctx, envelope)
	case eventbus.KindSignal:
		s.handleSignal(ctx, envelope)
	default:
		s.log.DebugContext(ctx, "ignoring message kind", "kind", envelope.Kind, "saga_id", envelope.SagaID)
	}
}

func (s *Service) handleRequest(ctx context.Context, envelope eventbus.Envelope) {
	var request eventbus.Request
	if err := envelope.DecodePayload(&request); err != nil {
		s.log.WarnContext(ctx, "discarding undecodable request", "saga_id", envelope.SagaID, "error", err)
		return
	}

	var reply eventbus.Reply
	switch envelope.Operation {
	case eventbus.OpDeposit:
		reply = s.stageSingle(ctx, envelope.SagaID, ledger.KindDeposit, request)
	case eventbus.OpWithdraw:
		reply = s.stageSingle(ctx, envelope.SagaID, ledger.KindWithdraw, request)
	case eventbus.OpTransact:
		reply = s.stageTransact(ctx, envelope.SagaID, request)
	case eventbus.OpNewBankAccount:
		reply = s.openAccount(ctx, envelope.SagaID, request)
	case eventbus.OpNewCreditCard:
		reply = s.openCreditCard(ctx, envelope.SagaID, request)
	case eventbus.OpNewCreditCardSetBalance:
		reply = s.stageCardFunding(ctx, envelope.SagaID, request)
	case eventbus.OpViewBalance:
		reply = s.viewBalance(ctx, request)
	default:
		s.log.WarnContext(ctx, "unsupported operation", "operation", envelope.Operation, "saga_id", envelope.SagaID)
		reply = s.failure(envelope.Operation, fmt.Sprintf("operation %s not supported", envelope.Operation))
	}

	s.metrics.RecordLedgerOperation(s.name, envelope.Operation, reply.Result)
	s.reply(ctx, envelope.SagaID, reply)
}

func (s *Service) stageSingle(ctx context.Context, sagaID string, kind ledger.OperationKind, request eventbus.Request) eventbus.Reply {
	entry, err := s.participant.Stage(ctx, sagaID, kind, request.AccountNumber, request.Amount)
	if err != nil {
		return s.failure(string(kind), err.Error())
	}
	if entry.Status == ledger.StatusFailedToComplete {
		return s.failure(string(kind), fmt.Sprintf("%s rejected for account %s", kind, request.AccountNumber))
	}
	s.track(sagaID, func(w *pendingWork) { w.kinds = append(w.kinds, kind) })
	return eventbus.Reply{
		Result:        eventbus.ResultSuccess,
		OperationType: string(kind),
		Participant:   s.name,
		AccountNumber: request.AccountNumber,
		BalanceAmount: request.Amount,
	}
}

func (s *Service) stageTransact(ctx context.Context, sagaID string, request eventbus.Request) eventbus.Reply {
	if _, err := s.participant.Stage(ctx, sagaID, ledger.KindWithdraw, request.FromAccount, request.Amount); err != nil {
		return s.failure(eventbus.OpTransact, err.Error())
	}
	if _, err := s.participant.Stage(ctx, sagaID, ledger.KindDeposit, request.ToAccount, request.Amount); err != nil {
		// The withdraw leg journaled fine; undo it so nothing dangles.
		if _, cancelErr := s.participant.Cancel(ctx, sagaID, ledger.KindWithdraw); cancelErr != nil {
			s.log.ErrorContext(ctx, "withdraw leg cancel failed", "saga_id", sagaID, "error", cancelErr)
		}
		return s.failure(eventbus.OpTransact, err.Error())
	}
	s.track(sagaID, func(w *pendingWork) {
		w.transact = true
		w.kinds = append(w.kinds, ledger.KindWithdraw, ledger.KindDeposit)
	})
	return eventbus.Reply{
		Result:        eventbus.ResultSuccess,
		OperationType: eventbus.OpTransact,
		Participant:   s.name,
		AccountNumber: request.FromAccount,
		BalanceAmount: request.Amount,
	}
}

func (s *Service) openAccount(ctx context.Context, sagaID string, request eventbus.Request) eventbus.Reply {
	number := newAccountNumber("AC")
	account := ledger.Account{
		Number: number,
		UCID:   request.UCID,
		Owner:  request.Owner,
		Kind:   ledger.AccountChecking,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return s.failure(eventbus.OpNewBankAccount, err.Error())
	}
	if _, err := s.participant.RecordOpen(ctx, sagaID, number); err != nil {
		// Without the journal row a restart would orphan the account.
		_ = s.store.DeleteAccount(ctx, number)
		return s.failure(eventbus.OpNewBankAccount, err.Error())
	}
	s.track(sagaID, func(w *pendingWork) { w.kinds = append(w.kinds, ledger.KindOpenAccount) })
	s.log.InfoContext(ctx, "account opened", "saga_id", sagaID, "account", number, "ucid", request.UCID)
	return eventbus.Reply{
		Result:        eventbus.ResultSuccess,
		OperationType: eventbus.OpNewBankAccount,
		Participant:   s.name,
		AccountNumber: number,
	}
}

func (s *Service) openCreditCard(ctx context.Context, sagaID string, request eventbus.Request) eventbus.Reply {
	number := newAccountNumber("CC")
	card := ledger.Account{
		Number: number,
		UCID:   request.UCID,
		Owner:  request.Owner,
		Kind:   ledger.AccountCredit,
	}
	if err := s.store.CreateAccount(ctx, card); err != nil {
		return s.failure(eventbus.OpNewCreditCard, err.Error())
	}
	if _, err := s.participant.RecordOpen(ctx, sagaID, number); err != nil {
		_ = s.store.DeleteAccount(ctx, number)
		return s.failure(eventbus.OpNewCreditCard, err.Error())
	}
	s.track(sagaID, func(w *pendingWork) { w.kinds = append(w.kinds, ledger.KindOpenAccount) })
	s.log.InfoContext(ctx, "credit card issued", "saga_id", sagaID, "card", number, "ucid", request.UCID)
	return eventbus.Reply{
		Result:        eventbus.ResultSuccess,
		OperationType: eventbus.OpNewCreditCard,
		Participant:   s.name,
		CardNumber:    number,
	}
}

// stageCardFunding journals the credit limit as a deposit on the card
// account; the funds land when the saga commits.
func (s *Service) stageCardFunding(ctx context.Context, sagaID string, request eventbus.Request) eventbus.Reply {
	entry, err := s.participant.Stage(ctx, sagaID, ledger.KindDeposit, request.CardNumber, request.Amount)
	if err != nil {
		return s.failure(eventbus.OpNewCreditCardSetBalance, err.Error())
	}
	if entry.Status == ledger.StatusFailedToComplete {
		return s.failure(eventbus.OpNewCreditCardSetBalance, fmt.Sprintf("funding rejected for card %s", request.CardNumber))
	}
	s.track(sagaID, func(w *pendingWork) { w.kinds = append(w.kinds, ledger.KindDeposit) })
	return eventbus.Reply{
		Result:        eventbus.ResultSuccess,
		OperationType: eventbus.OpNewCreditCardSetBalance,
		Participant:   s.name,
		CardNumber:    request.CardNumber,
		BalanceAmount: request.Amount,
	}
}

// viewBalance reads the committed balance. Staged journal entries are
// not reflected until their saga confirms.
func (s *Service) viewBalance(ctx context.Context, request eventbus.Request) eventbus.Reply {
	account, err := s.store.GetAccount(ctx, request.AccountNumber)
	if err != nil {
		return s.failure(eventbus.OpViewBalance, err.Error())
	}
	return eventbus.Reply{
		Result:        eventbus.ResultSuccess,
		OperationType: eventbus.OpViewBalance,
		Participant:   s.name,
		AccountNumber: account.Number,
		BalanceAmount: account.Balance,
	}
}

func (s *Service) handleSignal(ctx context.Context, envelope eventbus.Envelope) {
	var signal eventbus.Signal
	if err := envelope.DecodePayload(&signal); err != nil {
		s.log.WarnContext(ctx, "discarding undecodable signal", "saga_id", envelope.SagaID, "error", err)
		return
	}

	work := s.takeWork(ctx, envelope.SagaID)
	switch signal.Action {
	case eventbus.SignalCommit:
		s.commit(ctx, envelope.SagaID, work)
	case eventbus.SignalRollback:
		s.rollback(ctx, envelope.SagaID, work)
	default:
		s.log.WarnContext(ctx, "unknown signal action", "action", signal.Action, "saga_id", envelope.SagaID)
	}
}

// takeWork removes and returns the pending work for a saga. After a
// restart nothing is tracked in memory, so the journal is the fallback
// source of staged kinds.
func (s *Service) takeWork(ctx context.Context, sagaID string) *pendingWork {
	if work, ok := s.pending.LoadAndDelete(sagaID); ok {
		return work
	}
	work := &pendingWork{}
	entries, err := s.store.ListJournal(ctx, sagaID)
	if err != nil {
		s.log.WarnContext(ctx, "journal scan failed", "saga_id", sagaID, "error", err)
		return work
	}
	for _, entry := range entries {
		work.kinds = append(work.kinds, entry.Kind)
	}
	return work
}

func (s *Service) commit(ctx context.Context, sagaID string, work *pendingWork) {
	if work.transact {
		if err := s.participant.ConfirmTransfer(ctx, sagaID); err != nil {
			s.log.ErrorContext(ctx, "transfer confirm failed", "saga_id", sagaID, "error", err)
			s.metrics.RecordJournalTransition(s.name, ledger.StatusFailedToComplete.String())
			return
		}
		s.metrics.RecordJournalTransition(s.name, ledger.StatusCompleted.String())
		return
	}
	for _, kind := range work.kinds {
		entry, err := s.participant.Confirm(ctx, sagaID, kind)
		if err != nil {
			s.log.ErrorContext(ctx, "confirm failed", "saga_id", sagaID, "kind", kind, "error", err)
		}
		s.metrics.RecordJournalTransition(s.name, entry.Status.String())
	}
}

func (s *Service) rollback(ctx context.Context, sagaID string, work *pendingWork) {
	if work.transact {
		if err := s.participant.CancelTransfer(ctx, sagaID); err != nil {
			s.log.ErrorContext(ctx, "transfer cancel failed", "saga_id", sagaID, "error", err)
		}
		return
	}
	for _, kind := range work.kinds {
		entry, err := s.participant.Cancel(ctx, sagaID, kind)
		if err != nil {
			s.log.ErrorContext(ctx, "cancel failed", "saga_id", sagaID, "kind", kind, "error", err)
		}
		s.metrics.RecordJournalTransition(s.name, entry.Status.String())
	}
}

func (s *Service) reply(ctx context.Context, sagaID string, reply eventbus.Reply) {
	_, err := s.publisher.Publish(ctx, eventbus.ReplySubject(s.initiator), eventbus.Outbound{
		Kind:      eventbus.KindReply,
		Operation: reply.OperationType,
		SagaID:    sagaID,
		Payload:   reply,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "reply publish failed", "saga_id", sagaID, "error", err)
	}
}

func (s *Service) failure(operation, reason string) eventbus.Reply {
	return eventbus.Reply{
		Result:        eventbus.ResultFailure,
		OperationType: operation,
		Participant:   s.name,
		Reason:        reason,
	}
}

func (s *Service) track(sagaID string, update func(w *pendingWork)) {
	work, _ := s.pending.LoadOrStore(sagaID, &pendingWork{})
	update(work)
}

func newAccountNumber(prefix string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
