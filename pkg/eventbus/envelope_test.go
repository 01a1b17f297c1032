package eventbus

import (
	"testing"
	"time"
)

func TestBuildEnvelope(t *testing.T) {
	envelope, err := BuildEnvelope(BuildEnvelopeInput{
		Kind:      KindRequest,
		Operation: OpDeposit,
		SagaID:    "saga-1",
		Sender:    "initiator",
		Sequence:  3,
		Payload:   Request{AccountNumber: "AC001", Amount: 100},
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if envelope.EventID == "" {
		t.Fatal("expected event id to be generated")
	}
	if envelope.Kind != KindRequest || envelope.Operation != OpDeposit {
		t.Fatalf("got kind %q operation %q", envelope.Kind, envelope.Operation)
	}
	if envelope.Sequence != 3 {
		t.Fatalf("sequence = %d, want 3", envelope.Sequence)
	}
	if envelope.Timestamp.IsZero() || envelope.Timestamp.After(time.Now().UTC()) {
		t.Fatalf("unexpected timestamp %v", envelope.Timestamp)
	}

	var request Request
	if err := envelope.DecodePayload(&request); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if request.AccountNumber != "AC001" || request.Amount != 100 {
		t.Fatalf("decoded payload %+v", request)
	}
}

func TestBuildEnvelopeValidation(t *testing.T) {
	tests := []struct {
		name  string
		input BuildEnvelopeInput
	}{
		{"unknown kind", BuildEnvelopeInput{Kind: "broadcast", Operation: OpDeposit, SagaID: "s", Sender: "x"}},
		{"missing operation", BuildEnvelopeInput{Kind: KindRequest, SagaID: "s", Sender: "x"}},
		{"missing saga id", BuildEnvelopeInput{Kind: KindRequest, Operation: OpDeposit, Sender: "x"}},
		{"missing sender", BuildEnvelopeInput{Kind: KindRequest, Operation: OpDeposit, SagaID: "s"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildEnvelope(tc.input); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestDecodePayloadEmpty(t *testing.T) {
	var envelope Envelope
	var request Request
	if err := envelope.DecodePayload(&request); err == nil {
		t.Fatal("expected empty payload to be rejected")
	}
}

func TestReplySucceeded(t *testing.T) {
	if !(Reply{Result: ResultSuccess}).Succeeded() {
		t.Fatal("expected success reply to report succeeded")
	}
	if (Reply{Result: ResultFailure}).Succeeded() {
		t.Fatal("expected failure reply to report not succeeded")
	}
}
