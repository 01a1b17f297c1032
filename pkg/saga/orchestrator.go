package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sagabank/sagabank/pkg/book"
	"github.com/sagabank/sagabank/pkg/eventbus"
	"github.com/sagabank/sagabank/pkg/logger"
	"github.com/sagabank/sagabank/pkg/metrics"
)

// Bus is the transport the orchestrator publishes on and consumes
// replies from.
type Bus interface {
	eventbus.Transport
	Subscribe(pattern string, buffer int) (*eventbus.Subscription, error)
}

// OrchestratorOption customizes Orchestrator initialization.
type OrchestratorOption func(o *Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(log logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics wires the metrics manager.
func WithMetrics(m *metrics.Manager) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithDecisionTimeout bounds how long a saga may stay undecided.
func WithDecisionTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.decisionTimeout = timeout
		}
	}
}

// WithSessionGrace sets how long decided sessions stay readable.
func WithSessionGrace(grace time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if grace > 0 {
			o.sessionGrace = grace
		}
	}
}

// WithCreditService names the credit-score participant.
func WithCreditService(name string) OrchestratorOption {
	return func(o *Orchestrator) {
		if name != "" {
			o.creditService = name
		}
	}
}

// WithRetryConfig sets the publish retry policy.
func WithRetryConfig(retry eventbus.RetryConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retry = retry
	}
}

// Orchestrator is the saga initiator. It owns the session cache, the
// audit book, and the single reply entry point; every terminal commit
// or rollback decision for a saga is made here exactly once, under
// that saga's lock.
type Orchestrator struct {
	name          string
	bus           Bus
	publisher     *eventbus.Publisher
	consumer      *eventbus.Consumer
	cache         SessionCache
	auditBook     book.Book
	directory     *Directory
	creditService string
	retry         eventbus.RetryConfig

	metrics *metrics.Manager
	log     logger.Logger
	locks   *xsync.MapOf[string, *sync.Mutex]

	decisionTimeout time.Duration
	sessionGrace    time.Duration

	sub  *eventbus.Subscription
	wg   sync.WaitGroup
	once sync.Once
}

// NewOrchestrator creates a saga orchestrator named as the initiator
// identity replies are addressed to.
func NewOrchestrator(name string, bus Bus, cache SessionCache, auditBook book.Book, directory *Directory, options ...OrchestratorOption) (*Orchestrator, error) {
	if name == "" {
		return nil, fmt.Errorf("saga: orchestrator name is required")
	}
	if bus == nil || cache == nil || auditBook == nil || directory == nil {
		return nil, fmt.Errorf("saga: bus, cache, book, and directory are required")
	}

	o := &Orchestrator{
		name:            name,
		bus:             bus,
		consumer:        eventbus.NewConsumer(),
		cache:           cache,
		auditBook:       auditBook,
		directory:       directory,
		creditService:   "creditscore",
		retry:           eventbus.DefaultRetryConfig(),
		metrics:         metrics.NoOpManager(),
		log:             logger.Global(),
		locks:           xsync.NewMapOf[string, *sync.Mutex](),
		decisionTimeout: 30 * time.Second,
		sessionGrace:    5 * time.Minute,
	}
	for _, option := range options {
		if option != nil {
			option(o)
		}
	}
	o.log = o.log.With("component", "orchestrator")

	publisher, err := eventbus.NewPublisher(name, bus, o.retry, o.metrics)
	if err != nil {
		return nil, err
	}
	o.publisher = publisher
	return o, nil
}

// Run consumes replies until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	sub, err := o.bus.Subscribe(eventbus.ReplySubject(o.name), 256)
	if err != nil {
		return err
	}
	o.sub = sub

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				envelope, duplicate, err := o.consumer.Decode(msg.Payload)
				if err != nil {
					o.log.WarnContext(ctx, "discarding malformed reply", "error", err)
					continue
				}
				if duplicate {
					o.log.DebugContext(ctx, "duplicate reply suppressed", "saga_id", envelope.SagaID, "event_id", envelope.EventID)
					continue
				}
				o.handleEnvelope(ctx, envelope)
			}
		}
	}()
	return nil
}

// Close stops reply consumption.
func (o *Orchestrator) Close() error {
	o.once.Do(func() {
		if o.sub != nil {
			_ = o.sub.Close()
		}
	})
	o.wg.Wait()
	return nil
}

// NewAccountInput starts a new bank account saga.
type NewAccountInput struct {
	UCID       string
	Owner      string
	ForceError bool
}

// StartNewAccount opens a bank account for the customer through the
// owning bank participant.
func (o *Orchestrator) StartNewAccount(ctx context.Context, input NewAccountInput) (string, error) {
	bank, err := o.directory.BankFor(input.UCID)
	if err != nil {
		return "", err
	}

	session := o.newSession(OpNewBankAccount, input.UCID, bank, "")
	session.ForceError = input.ForceError
	session.Request = eventbus.Request{UCID: input.UCID, Owner: input.Owner}

	if err := o.openSaga(ctx, session, book.Record{
		SagaID:    session.SagaID,
		Operation: string(OpNewBankAccount),
		UCID:      input.UCID,
	}); err != nil {
		return "", err
	}
	if err := o.publishRequest(ctx, bank, eventbus.OpNewBankAccount, session.SagaID, session.Request); err != nil {
		return "", o.abortStart(ctx, session, err)
	}
	return session.SagaID, nil
}

// NewCreditCardInput starts a new credit card saga.
type NewCreditCardInput struct {
	UCID       string
	ForceError bool
}

// StartNewCreditCard opens a credit card: the owning bank issues the
// card while the credit-score service is consulted in parallel, then a
// second request funds the card with the tiered limit.
func (o *Orchestrator) StartNewCreditCard(ctx context.Context, input NewCreditCardInput) (string, error) {
	bank, err := o.directory.BankFor(input.UCID)
	if err != nil {
		return "", err
	}

	session := o.newSession(OpNewCreditCard, input.UCID, bank, "")
	session.ForceError = input.ForceError
	session.Request = eventbus.Request{UCID: input.UCID}

	if err := o.openSaga(ctx, session, book.Record{
		SagaID:    session.SagaID,
		Operation: string(OpNewCreditCard),
		UCID:      input.UCID,
	}); err != nil {
		return "", err
	}
	if err := o.publishRequest(ctx, o.creditService, eventbus.OpCreditCheck, session.SagaID, session.Request); err != nil {
		return "", o.abortStart(ctx, session, err)
	}
	if err := o.publishRequest(ctx, bank, eventbus.OpNewCreditCard, session.SagaID, session.Request); err != nil {
		return "", o.abortStart(ctx, session, err)
	}
	return session.SagaID, nil
}

// TransferInput starts a transfer saga between two accounts.
type TransferInput struct {
	FromUCID    string
	ToUCID      string
	FromAccount string
	ToAccount   string
	Amount      int64
	ForceError  bool
}

// StartTransfer moves funds between two accounts. Within one bank it
// collapses to a single transact request; across banks the withdraw
// and deposit legs go to their owning banks separately.
func (o *Orchestrator) StartTransfer(ctx context.Context, input TransferInput) (string, error) {
	if input.Amount <= 0 {
		return "", fmt.Errorf("saga: transfer amount must be positive, got %d", input.Amount)
	}
	fromBank, err := o.directory.BankFor(input.FromUCID)
	if err != nil {
		return "", err
	}
	toBank, err := o.directory.BankFor(input.ToUCID)
	if err != nil {
		return "", err
	}

	counterparty := ""
	transferType := book.TransferIntraBank
	if toBank != fromBank {
		counterparty = toBank
		transferType = book.TransferInterBank
	}

	session := o.newSession(OpTransfer, input.FromUCID, fromBank, counterparty)
	session.ForceError = input.ForceError
	session.Request = eventbus.Request{
		FromAccount: input.FromAccount,
		ToAccount:   input.ToAccount,
		Amount:      input.Amount,
	}

	if err := o.openSaga(ctx, session, book.Record{
		SagaID:       session.SagaID,
		Operation:    string(OpTransfer),
		UCID:         input.FromUCID,
		TransferType: transferType,
		Detail:       fmt.Sprintf("%s -> %s", input.FromAccount, input.ToAccount),
	}); err != nil {
		return "", err
	}

	if session.CrossBank() {
		withdraw := eventbus.Request{AccountNumber: input.FromAccount, Amount: input.Amount}
		deposit := eventbus.Request{AccountNumber: input.ToAccount, Amount: input.Amount}
		if err := o.publishRequest(ctx, fromBank, eventbus.OpWithdraw, session.SagaID, withdraw); err != nil {
			return "", o.abortStart(ctx, session, err)
		}
		if err := o.publishRequest(ctx, toBank, eventbus.OpDeposit, session.SagaID, deposit); err != nil {
			return "", o.abortStart(ctx, session, err)
		}
	} else {
		if err := o.publishRequest(ctx, fromBank, eventbus.OpTransact, session.SagaID, session.Request); err != nil {
			return "", o.abortStart(ctx, session, err)
		}
	}
	return session.SagaID, nil
}

// Status returns the session and audit row for one saga. Either may be
// missing once the session has expired.
func (o *Orchestrator) Status(ctx context.Context, sagaID string) (*Session, book.Record, error) {
	record, err := o.auditBook.Get(ctx, sagaID)
	if err != nil {
		return nil, book.Record{}, err
	}
	session, err := o.cache.Get(ctx, sagaID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, record, nil
		}
		return nil, book.Record{}, err
	}
	return session, record, nil
}

// List returns every audit row, oldest first.
func (o *Orchestrator) List(ctx context.Context) ([]book.Record, error) {
	return o.auditBook.List(ctx)
}

// TimeoutSaga rolls back an undecided saga. The watchdog calls this
// for sessions past their deadline.
func (o *Orchestrator) TimeoutSaga(ctx context.Context, sagaID string) {
	mu := o.lockFor(sagaID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.cache.Get(ctx, sagaID)
	if err != nil {
		return
	}
	if session.Decided {
		return
	}
	o.log.WarnContext(ctx, "saga decision timeout", "saga_id", sagaID, "operation", session.Operation)
	o.metrics.RecordSagaTimeout()
	o.rollback(ctx, session, "decision timeout exceeded", "timeout")
}

func (o *Orchestrator) newSession(op OperationType, ucid, bank, counterparty string) *Session {
	now := time.Now().UTC()
	return &Session{
		SagaID:           uuid.NewString(),
		Operation:        op,
		UCID:             ucid,
		Bank:             bank,
		CounterpartyBank: counterparty,
		CreatedAt:        now,
		Deadline:         now.Add(o.decisionTimeout),
	}
}

// openSaga records the audit row and session before any request is
// published, so a reply can never race the saga into existence. The
// row moves to ONGOING here too: once fan-out starts, a participant
// could decide the saga before the starter returns.
func (o *Orchestrator) openSaga(ctx context.Context, session *Session, record book.Record) error {
	if err := o.auditBook.Append(ctx, record); err != nil {
		return err
	}
	if err := o.auditBook.UpdateStatus(ctx, session.SagaID, book.StatusOngoing); err != nil {
		return err
	}
	if err := o.cache.Put(ctx, session); err != nil {
		return err
	}
	o.metrics.RecordSagaStarted(string(session.Operation))
	o.metrics.IncActiveSessions()
	o.log.InfoContext(ctx, "saga started", "saga_id", session.SagaID, "operation", session.Operation, "bank", session.Bank)
	return nil
}

// abortStart fails a saga whose fan-out could not be published.
func (o *Orchestrator) abortStart(ctx context.Context, session *Session, cause error) error {
	mu := o.lockFor(session.SagaID)
	mu.Lock()
	defer mu.Unlock()
	o.rollback(ctx, session, fmt.Sprintf("request publish failed: %v", cause), "publish")
	return cause
}

func (o *Orchestrator) publishRequest(ctx context.Context, participant, operation, sagaID string, req eventbus.Request) error {
	_, err := o.publisher.Publish(ctx, eventbus.RequestSubject(participant), eventbus.Outbound{
		Kind:      eventbus.KindRequest,
		Operation: operation,
		SagaID:    sagaID,
		Payload:   req,
	})
	return err
}

func (o *Orchestrator) lockFor(sagaID string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(sagaID, &sync.Mutex{})
	return mu
}

// handleEnvelope is the single reply entry point. A panic while
// handling one reply rolls back that saga only and evicts its session.
func (o *Orchestrator) handleEnvelope(ctx context.Context, envelope eventbus.Envelope) {
	mu := o.lockFor(envelope.SagaID)
	mu.Lock()
	defer mu.Unlock()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		o.log.ErrorContext(ctx, "panic handling reply", "saga_id", envelope.SagaID, "panic", r)
		if session, err := o.cache.Get(ctx, envelope.SagaID); err == nil && !session.RollbackPerformed {
			o.rollback(ctx, session, fmt.Sprintf("internal error: %v", r), "panic")
		}
		_ = o.cache.Delete(ctx, envelope.SagaID)
	}()

	session, err := o.cache.Get(ctx, envelope.SagaID)
	if err != nil {
		o.log.WarnContext(ctx, "reply for unknown saga dropped", "saga_id", envelope.SagaID, "sender", envelope.Sender)
		o.metrics.RecordDroppedReply()
		return
	}
	if session.Decided {
		o.log.DebugContext(ctx, "reply after terminal decision dropped",
			"saga_id", session.SagaID, "outcome", session.Outcome, "sender", envelope.Sender)
		o.metrics.RecordDroppedReply()
		return
	}

	var reply eventbus.Reply
	if err := envelope.DecodePayload(&reply); err != nil {
		o.log.WarnContext(ctx, "discarding undecodable reply", "saga_id", session.SagaID, "error", err)
		return
	}

	if !reply.Succeeded() {
		reason := reply.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s rejected %s", reply.Participant, reply.OperationType)
		}
		o.rollback(ctx, session, reason, "failure")
		return
	}

	o.absorbReply(session, reply)

	if session.Operation == OpNewCreditCard && session.CardPhaseReady() && !session.SecondRequested {
		o.advanceCardSaga(ctx, session)
		return
	}

	if session.ReadyToCommit() {
		if session.ForceError {
			o.rollback(ctx, session, "forced error requested", "forced")
			return
		}
		o.commit(ctx, session)
		return
	}

	if err := o.cache.Put(ctx, session); err != nil {
		o.log.ErrorContext(ctx, "session persist failed", "saga_id", session.SagaID, "error", err)
	}
}

// absorbReply folds one successful reply into the session.
func (o *Orchestrator) absorbReply(session *Session, reply eventbus.Reply) {
	switch reply.OperationType {
	case eventbus.OpCreditCheck:
		session.CreditScoreReplied = true
		session.CreditScore = reply.CreditScore
	case eventbus.OpNewBankAccount:
		session.AccountsReplied = true
		session.AccountNumber = reply.AccountNumber
	case eventbus.OpNewCreditCard:
		session.AccountsReplied = true
		session.CardNumber = reply.CardNumber
	case eventbus.OpNewCreditCardSetBalance:
		session.SecondAccountsReplied = true
	case eventbus.OpWithdraw:
		session.WithdrawReplied = true
	case eventbus.OpDeposit:
		session.DepositReplied = true
	case eventbus.OpTransact:
		session.AccountsReplied = true
	}
}

// advanceCardSaga runs the tiering decision once the card number and
// the credit score are both in.
func (o *Orchestrator) advanceCardSaga(ctx context.Context, session *Session) {
	limit, ok := CreditLimitFor(session.CreditScore)
	if !ok {
		o.rollback(ctx, session, fmt.Sprintf("credit score %d below minimum", session.CreditScore), "failure")
		return
	}
	session.CreditLimit = limit
	session.SecondRequested = true

	setBalance := eventbus.Request{
		UCID:       session.UCID,
		CardNumber: session.CardNumber,
		Amount:     limit,
	}
	if err := o.publishRequest(ctx, session.Bank, eventbus.OpNewCreditCardSetBalance, session.SagaID, setBalance); err != nil {
		o.rollback(ctx, session, fmt.Sprintf("set-balance publish failed: %v", err), "publish")
		return
	}
	if err := o.cache.Put(ctx, session); err != nil {
		o.log.ErrorContext(ctx, "session persist failed", "saga_id", session.SagaID, "error", err)
	}
	o.log.InfoContext(ctx, "credit limit assigned", "saga_id", session.SagaID,
		"score", session.CreditScore, "limit", limit)
}

// commit records the success decision and signals every participant to
// confirm its staged work.
func (o *Orchestrator) commit(ctx context.Context, session *Session) {
	session.Decided = true
	session.Outcome = OutcomeCompleted

	o.signalParticipants(ctx, session, eventbus.SignalCommit)
	if err := o.auditBook.UpdateStatus(ctx, session.SagaID, book.StatusCompleted); err != nil {
		o.log.ErrorContext(ctx, "audit update failed", "saga_id", session.SagaID, "error", err)
	}
	o.finishSession(ctx, session)
	o.log.InfoContext(ctx, "saga committed", "saga_id", session.SagaID, "operation", session.Operation)
}

// rollback records the failure decision exactly once and signals every
// participant to cancel its staged work.
func (o *Orchestrator) rollback(ctx context.Context, session *Session, reason, trigger string) {
	if session.RollbackPerformed {
		return
	}
	session.RollbackPerformed = true
	session.Decided = true
	session.Outcome = OutcomeRolledBack
	session.Reason = reason

	o.signalParticipants(ctx, session, eventbus.SignalRollback)
	if err := o.auditBook.UpdateStatus(ctx, session.SagaID, book.StatusFailed); err != nil {
		o.log.ErrorContext(ctx, "audit update failed", "saga_id", session.SagaID, "error", err)
	}
	o.metrics.RecordCompensation(trigger)
	o.finishSession(ctx, session)
	o.log.WarnContext(ctx, "saga rolled back", "saga_id", session.SagaID,
		"operation", session.Operation, "reason", reason)
}

func (o *Orchestrator) signalParticipants(ctx context.Context, session *Session, action string) {
	for _, participant := range session.Participants() {
		_, err := o.publisher.Publish(ctx, eventbus.SignalSubject(participant), eventbus.Outbound{
			Kind:      eventbus.KindSignal,
			Operation: string(session.Operation),
			SagaID:    session.SagaID,
			Payload:   eventbus.Signal{Action: action},
		})
		if err != nil {
			o.log.ErrorContext(ctx, "signal publish failed", "saga_id", session.SagaID,
				"participant", participant, "action", action, "error", err)
		}
	}
}

func (o *Orchestrator) finishSession(ctx context.Context, session *Session) {
	if err := o.cache.Put(ctx, session); err != nil {
		o.log.ErrorContext(ctx, "session persist failed", "saga_id", session.SagaID, "error", err)
	}
	if err := o.cache.Expire(ctx, session.SagaID, o.sessionGrace); err != nil {
		o.log.DebugContext(ctx, "session expire failed", "saga_id", session.SagaID, "error", err)
	}
	o.metrics.RecordSagaDecision(string(session.Operation), session.Outcome, time.Since(session.CreatedAt))
	o.metrics.DecActiveSessions()
}
