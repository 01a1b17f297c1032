// Package creditscore implements the credit-score participant. It
// answers credit_check requests from a score table and stages nothing,
// so it never receives terminal signals.
package creditscore

import (
	"context"
	"fmt"
	"sync"

	"github.com/sagabank/sagabank/pkg/eventbus"
	"github.com/sagabank/sagabank/pkg/logger"
	"github.com/sagabank/sagabank/pkg/metrics"
)

// Bus is the transport the service consumes requests from.
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

// Service is the credit-score participant on the bus.
type Service struct {
	name      string
	initiator string
	bus       Bus
	publisher *eventbus.Publisher
	consumer  *eventbus.Consumer

	mu     sync.RWMutex
	scores map[string]int

	metrics *metrics.Manager
	log     logger.Logger

	sub  *eventbus.Subscription
	wg   sync.WaitGroup
	once sync.Once
}

// NewService creates the credit-score participant.
func NewService(name, initiator string, bus Bus, options ...Option) (*Service, error) {
	if name == "" || initiator == "" {
		return nil, fmt.Errorf("creditscore: name and initiator are required")
	}
	if bus == nil {
		return nil, fmt.Errorf("creditscore: bus is required")
	}

	s := &Service{
		name:      name,
		initiator: initiator,
		bus:       bus,
		consumer:  eventbus.NewConsumer(),
		scores:    make(map[string]int),
		metrics:   metrics.NoOpManager(),
		log:       logger.Global(),
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	s.log = s.log.With("participant", name)

	publisher, err := eventbus.NewPublisher(name, bus, eventbus.DefaultRetryConfig(), s.metrics)
	if err != nil {
		return nil, err
	}
	s.publisher = publisher
	return s, nil
}

// Name returns the participant name.
func (s *Service) Name() string { return s.name }

// SetScore records a customer's credit score.
func (s *Service) SetScore(ucid string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[ucid] = score
}

// Score looks up a customer's credit score.
func (s *Service) Score(ucid string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[ucid]
	return score, ok
}

// Run consumes credit_check requests until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sub, err := s.bus.Subscribe(eventbus.RequestSubject(s.name), 256)
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
					continue
				}
				s.handleRequest(ctx, envelope)
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

func (s *Service) handleRequest(ctx context.Context, envelope eventbus.Envelope) {
	if envelope.Operation != eventbus.OpCreditCheck {
		s.log.WarnContext(ctx, "unsupported operation", "operation", envelope.Operation, "saga_id", envelope.SagaID)
		return
	}
	var request eventbus.Request
	if err := envelope.DecodePayload(&request); err != nil {
		s.log.WarnContext(ctx, "discarding undecodable request", "saga_id", envelope.SagaID, "error", err)
		return
	}

	reply := eventbus.Reply{
		OperationType: eventbus.OpCreditCheck,
		Participant:   s.name,
	}
	score, ok := s.Score(request.UCID)
	if !ok {
		reply.Result = eventbus.ResultFailure
		reply.Reason = fmt.Sprintf("no credit history for customer %s", request.UCID)
	} else {
		reply.Result = eventbus.ResultSuccess
		reply.CreditScore = score
	}
	s.metrics.RecordLedgerOperation(s.name, eventbus.OpCreditCheck, reply.Result)

	if _, err := s.publisher.Publish(ctx, eventbus.ReplySubject(s.initiator), eventbus.Outbound{
		Kind:      eventbus.KindReply,
		Operation: eventbus.OpCreditCheck,
		SagaID:    envelope.SagaID,
		Payload:   reply,
	}); err != nil {
		s.log.ErrorContext(ctx, "reply publish failed", "saga_id", envelope.SagaID, "error", err)
	}
}
