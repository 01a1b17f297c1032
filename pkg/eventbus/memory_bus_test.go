package eventbus

import (
	"context"
	"testing"
	"time"
)

func receiveMessage(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg := <-sub.C():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe("sagabank.v1.request.banka", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(ctx, "sagabank.v1.request.banka", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := receiveMessage(t, sub)
	if msg.Subject != "sagabank.v1.request.banka" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if string(msg.Payload) != `{"a":1}` {
		t.Fatalf("payload = %q", msg.Payload)
	}

	// Non-matching subjects are not delivered.
	if err := bus.Publish(ctx, "sagabank.v1.request.bankb", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected delivery: %q", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusWildcards(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()

	star, err := bus.Subscribe("sagabank.v1.*.banka", 0)
	if err != nil {
		t.Fatalf("subscribe star: %v", err)
	}
	defer star.Close()
	tail, err := bus.Subscribe("sagabank.v1.>", 0)
	if err != nil {
		t.Fatalf("subscribe tail: %v", err)
	}
	defer tail.Close()

	if err := bus.Publish(ctx, "sagabank.v1.signal.banka", []byte("s")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg := receiveMessage(t, star); msg.Subject != "sagabank.v1.signal.banka" {
		t.Fatalf("star got %q", msg.Subject)
	}
	if msg := receiveMessage(t, tail); msg.Subject != "sagabank.v1.signal.banka" {
		t.Fatalf("tail got %q", msg.Subject)
	}
}

func TestMemoryBusDropsWhenBufferFull(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe("subj", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(ctx, "subj", []byte("first")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Buffer is full; this one is dropped, not blocked on.
	if err := bus.Publish(ctx, "subj", []byte("second")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := receiveMessage(t, sub)
	if string(msg.Payload) != "first" {
		t.Fatalf("payload = %q, want first", msg.Payload)
	}
	select {
	case msg := <-sub.C():
		t.Fatalf("expected second message dropped, got %q", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe("subj", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Close is idempotent.
	if err := sub.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}

	if err := bus.Publish(ctx, "subj", []byte("x")); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestMemoryBusValidation(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	if err := bus.Publish(context.Background(), "", []byte("x")); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
	if _, err := bus.Subscribe("", 0); err == nil {
		t.Fatal("expected empty pattern to be rejected")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Publish(cancelled, "subj", []byte("x")); err == nil {
		t.Fatal("expected cancelled context to be rejected")
	}
}
