package eventbus

import (
	"encoding/json"
	"testing"
)

func encodeEnvelope(t *testing.T, envelope Envelope) []byte {
	t.Helper()
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func buildRequestEnvelope(t *testing.T, operation string, payload Request) Envelope {
	t.Helper()
	envelope, err := BuildEnvelope(BuildEnvelopeInput{
		Kind:      KindRequest,
		Operation: operation,
		SagaID:    "saga-1",
		Sender:    "initiator",
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return envelope
}

func TestConsumerDecode(t *testing.T) {
	consumer := NewConsumer()
	envelope := buildRequestEnvelope(t, OpDeposit, Request{AccountNumber: "AC001", Amount: 100})

	decoded, duplicate, err := consumer.Decode(encodeEnvelope(t, envelope))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if duplicate {
		t.Fatal("first delivery flagged duplicate")
	}
	if decoded.EventID != envelope.EventID || decoded.Operation != OpDeposit {
		t.Fatalf("decoded %+v", decoded)
	}
}

func TestConsumerSuppressesDuplicates(t *testing.T) {
	consumer := NewConsumer()
	envelope := buildRequestEnvelope(t, OpWithdraw, Request{AccountNumber: "AC001", Amount: 50})
	raw := encodeEnvelope(t, envelope)

	if _, duplicate, err := consumer.Decode(raw); err != nil || duplicate {
		t.Fatalf("first decode: duplicate=%v err=%v", duplicate, err)
	}
	decoded, duplicate, err := consumer.Decode(raw)
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if !duplicate {
		t.Fatal("redelivery not flagged duplicate")
	}
	if decoded.EventID != envelope.EventID {
		t.Fatalf("duplicate decode lost envelope: %+v", decoded)
	}
}

func TestConsumerRejectsInvalidJSON(t *testing.T) {
	consumer := NewConsumer()
	if _, _, err := consumer.Decode([]byte("{not json")); err == nil {
		t.Fatal("expected invalid json to be rejected")
	}
}

func TestConsumerValidatesRequiredFields(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		payload   Request
		wantErr   bool
	}{
		{"deposit ok", OpDeposit, Request{AccountNumber: "AC001", Amount: 100}, false},
		{"deposit missing amount", OpDeposit, Request{AccountNumber: "AC001"}, true},
		{"withdraw missing account", OpWithdraw, Request{Amount: 100}, true},
		{"transact ok", OpTransact, Request{FromAccount: "AC001", ToAccount: "AC002", Amount: 100}, false},
		{"transact missing to", OpTransact, Request{FromAccount: "AC001", Amount: 100}, true},
		{"new account ok", OpNewBankAccount, Request{UCID: "UC-1", Owner: "Owner"}, false},
		{"new account missing ucid", OpNewBankAccount, Request{Owner: "Owner"}, true},
		{"credit check ok", OpCreditCheck, Request{UCID: "UC-1"}, false},
		{"set balance ok", OpNewCreditCardSetBalance, Request{CardNumber: "CC001", Amount: 2000}, false},
		{"set balance missing card", OpNewCreditCardSetBalance, Request{Amount: 2000}, true},
		{"view balance ok", OpViewBalance, Request{AccountNumber: "AC001"}, false},
		{"view balance missing account", OpViewBalance, Request{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			consumer := NewConsumer()
			envelope := buildRequestEnvelope(t, tc.operation, tc.payload)
			_, _, err := consumer.Decode(encodeEnvelope(t, envelope))
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("decode: %v", err)
			}
		})
	}
}

func TestConsumerRejectsUnknownOperation(t *testing.T) {
	consumer := NewConsumer()
	envelope := buildRequestEnvelope(t, OpDeposit, Request{AccountNumber: "AC001", Amount: 1})
	envelope.Operation = "loan_origination"
	if _, _, err := consumer.Decode(encodeEnvelope(t, envelope)); err == nil {
		t.Fatal("expected unknown operation to be rejected")
	}
}

func TestConsumerSkipsPayloadValidationForReplies(t *testing.T) {
	consumer := NewConsumer()
	envelope, err := BuildEnvelope(BuildEnvelopeInput{
		Kind:      KindReply,
		Operation: OpDeposit,
		SagaID:    "saga-1",
		Sender:    "banka",
		Payload:   Reply{Result: ResultSuccess},
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if _, _, err := consumer.Decode(encodeEnvelope(t, envelope)); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
}

func TestConsumerRejectsMissingEnvelopeFields(t *testing.T) {
	consumer := NewConsumer()
	envelope := buildRequestEnvelope(t, OpDeposit, Request{AccountNumber: "AC001", Amount: 1})
	envelope.EventID = ""
	if _, _, err := consumer.Decode(encodeEnvelope(t, envelope)); err == nil {
		t.Fatal("expected missing event id to be rejected")
	}
}
