package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
)

// requiredPayloadFields names the payload fields a request must carry,
// per operation. Replies and signals are validated structurally by
// their typed payloads instead.
var requiredPayloadFields = map[string][]string{
	OpDeposit:                 {"account_number", "balance_amount"},
	OpWithdraw:                {"account_number", "balance_amount"},
	OpTransact:                {"from_account", "to_account", "balance_amount"},
	OpNewBankAccount:          {"ucid"},
	OpNewCreditCard:           {"ucid"},
	OpNewCreditCardSetBalance: {"cc_number", "balance_amount"},
	OpCreditCheck:             {"ucid"},
	OpViewBalance:             {"account_number"},
}

// Consumer decodes raw bus bytes into envelopes and suppresses
// duplicate deliveries by event id. The bus may redeliver; consumers
// must not re-stage the same work.
type Consumer struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewConsumer creates a deduplicating consumer.
func NewConsumer() *Consumer {
	return &Consumer{
		seen: make(map[string]struct{}),
	}
}

// Decode decodes and validates raw event bytes. The second return is
// true when the envelope was already delivered.
func (c *Consumer) Decode(raw []byte) (Envelope, bool, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, false, fmt.Errorf("eventbus: invalid envelope json: %w", err)
	}
	if err := validateEnvelope(envelope); err != nil {
		return Envelope{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.seen[envelope.EventID]; exists {
		return envelope, true, nil
	}
	c.seen[envelope.EventID] = struct{}{}
	return envelope, false, nil
}

func validateEnvelope(envelope Envelope) error {
	if envelope.EventID == "" || envelope.SagaID == "" || envelope.Sender == "" {
		return fmt.Errorf("eventbus: missing required envelope fields")
	}
	switch envelope.Kind {
	case KindRequest:
		return validateRequestPayload(envelope)
	case KindReply, KindSignal:
		return nil
	default:
		return fmt.Errorf("eventbus: unknown message kind %q", envelope.Kind)
	}
}

func validateRequestPayload(envelope Envelope) error {
	required, ok := requiredPayloadFields[envelope.Operation]
	if !ok {
		return fmt.Errorf("eventbus: unknown operation %q", envelope.Operation)
	}
	var payloadMap map[string]json.RawMessage
	if err := json.Unmarshal(envelope.Payload, &payloadMap); err != nil {
		return fmt.Errorf("eventbus: invalid payload json: %w", err)
	}
	for _, field := range required {
		if _, exists := payloadMap[field]; !exists {
			return fmt.Errorf("eventbus: required payload field %q missing for %s", field, envelope.Operation)
		}
	}
	return nil
}
