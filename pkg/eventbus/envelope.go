package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageKind classifies envelope traffic on the bus.
type MessageKind string

const (
	// KindRequest asks a participant to stage work for a saga.
	KindRequest MessageKind = "request"
	// KindReply carries a participant's outcome back to the initiator.
	KindReply MessageKind = "reply"
	// KindSignal tells a participant to commit or roll back staged work.
	KindSignal MessageKind = "signal"
)

// Envelope is the canonical saga message envelope. Every request,
// reply, and terminal signal travels as one of these.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Kind      MessageKind     `json:"kind"`
	Operation string          `json:"operation"`
	SagaID    string          `json:"saga_id"`
	Sender    string          `json:"sender"`
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// BuildEnvelopeInput is used to construct a new envelope.
type BuildEnvelopeInput struct {
	Kind      MessageKind
	Operation string
	SagaID    string
	Sender    string
	Sequence  int64
	Payload   any
}

// BuildEnvelope creates a canonical envelope with generated event identity.
func BuildEnvelope(input BuildEnvelopeInput) (Envelope, error) {
	switch input.Kind {
	case KindRequest, KindReply, KindSignal:
	default:
		return Envelope{}, fmt.Errorf("eventbus: unknown message kind %q", input.Kind)
	}
	if input.Operation == "" {
		return Envelope{}, fmt.Errorf("eventbus: operation is required")
	}
	if input.SagaID == "" {
		return Envelope{}, fmt.Errorf("eventbus: saga id is required")
	}
	if input.Sender == "" {
		return Envelope{}, fmt.Errorf("eventbus: sender is required")
	}

	payload, err := json.Marshal(input.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventbus: marshal payload: %w", err)
	}

	return Envelope{
		EventID:   uuid.NewString(),
		Kind:      input.Kind,
		Operation: input.Operation,
		SagaID:    input.SagaID,
		Sender:    input.Sender,
		Sequence:  input.Sequence,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("eventbus: envelope %s has no payload", e.EventID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("eventbus: decode payload: %w", err)
	}
	return nil
}
