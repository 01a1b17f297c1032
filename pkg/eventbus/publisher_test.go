package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyTransport fails the first failures publishes, then succeeds.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	attempts int
	subjects []string
}

func (f *flakyTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("transport down")
	}
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *flakyTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type recordingTelemetry struct {
	mu        sync.Mutex
	published []string
	retries   int
	degraded  []bool
}

func (r *recordingTelemetry) RecordPublish(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, status)
}

func (r *recordingTelemetry) RecordRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *recordingTelemetry) SetDegradedMode(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = append(r.degraded, active)
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestNewPublisherValidation(t *testing.T) {
	transport := &flakyTransport{}
	if _, err := NewPublisher("", transport, DefaultRetryConfig(), nil); err == nil {
		t.Fatal("expected empty sender to be rejected")
	}
	if _, err := NewPublisher("initiator", nil, DefaultRetryConfig(), nil); err == nil {
		t.Fatal("expected nil transport to be rejected")
	}
	bad := DefaultRetryConfig()
	bad.MaxRetries = -1
	if _, err := NewPublisher("initiator", transport, bad, nil); err == nil {
		t.Fatal("expected negative retries to be rejected")
	}
	bad = DefaultRetryConfig()
	bad.BackoffFactor = 0.5
	if _, err := NewPublisher("initiator", transport, bad, nil); err == nil {
		t.Fatal("expected sub-unit backoff factor to be rejected")
	}
}

func TestPublishRetriesUntilSuccess(t *testing.T) {
	transport := &flakyTransport{failures: 2}
	telemetry := &recordingTelemetry{}
	publisher, err := NewPublisher("initiator", transport, fastRetryConfig(), telemetry)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	envelope, err := publisher.Publish(context.Background(), "subj", Outbound{
		Kind:      KindReply,
		Operation: OpDeposit,
		SagaID:    "saga-1",
		Payload:   Reply{Result: ResultSuccess, OperationType: OpDeposit, Participant: "banka"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if envelope.Sender != "initiator" {
		t.Fatalf("sender = %q", envelope.Sender)
	}
	if got := transport.attemptCount(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if telemetry.retries != 2 {
		t.Fatalf("retries = %d, want 2", telemetry.retries)
	}
	// Degraded while the transport failed, recovered on success.
	if publisher.Degraded() {
		t.Fatal("expected publisher to recover from degraded mode")
	}
	if len(telemetry.degraded) != 2 || !telemetry.degraded[0] || telemetry.degraded[1] {
		t.Fatalf("degraded transitions = %v, want [true false]", telemetry.degraded)
	}
}

func TestPublishFailsAfterRetriesExhausted(t *testing.T) {
	transport := &flakyTransport{failures: 10}
	telemetry := &recordingTelemetry{}
	publisher, err := NewPublisher("initiator", transport, fastRetryConfig(), telemetry)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	_, err = publisher.Publish(context.Background(), "subj", Outbound{
		Kind:      KindReply,
		Operation: OpDeposit,
		SagaID:    "saga-1",
		Payload:   Reply{Result: ResultFailure},
	})
	if err == nil {
		t.Fatal("expected publish to fail")
	}
	if got := transport.attemptCount(); got != 4 {
		t.Fatalf("attempts = %d, want 4", got)
	}
	if !publisher.Degraded() {
		t.Fatal("expected publisher to be degraded")
	}
	if len(telemetry.published) == 0 || telemetry.published[len(telemetry.published)-1] != "failed" {
		t.Fatalf("published statuses = %v, want trailing failed", telemetry.published)
	}
}

func TestPublishSequencesPerSaga(t *testing.T) {
	transport := &flakyTransport{}
	publisher, err := NewPublisher("initiator", transport, fastRetryConfig(), nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	ctx := context.Background()

	publish := func(sagaID string) Envelope {
		t.Helper()
		envelope, err := publisher.Publish(ctx, "subj", Outbound{
			Kind:      KindSignal,
			Operation: OpDeposit,
			SagaID:    sagaID,
			Payload:   Signal{Action: SignalCommit},
		})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		return envelope
	}

	if seq := publish("saga-a").Sequence; seq != 1 {
		t.Fatalf("saga-a first sequence = %d, want 1", seq)
	}
	if seq := publish("saga-a").Sequence; seq != 2 {
		t.Fatalf("saga-a second sequence = %d, want 2", seq)
	}
	if seq := publish("saga-b").Sequence; seq != 1 {
		t.Fatalf("saga-b first sequence = %d, want 1", seq)
	}
}

func TestNextBackoffCapped(t *testing.T) {
	if got := nextBackoff(time.Second, 5*time.Second, 2); got != 2*time.Second {
		t.Fatalf("backoff = %v, want 2s", got)
	}
	if got := nextBackoff(4*time.Second, 5*time.Second, 2); got != 5*time.Second {
		t.Fatalf("capped backoff = %v, want 5s", got)
	}
}
