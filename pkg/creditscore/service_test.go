package creditscore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sagabank/sagabank/pkg/eventbus"
)

func newTestService(t *testing.T) (*Service, *eventbus.MemoryBus, *eventbus.Subscription) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := eventbus.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	service, err := NewService("creditscore", "initiator", bus)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := service.Run(ctx); err != nil {
		t.Fatalf("run service: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = service.Close()
	})

	replies, err := bus.Subscribe(eventbus.ReplySubject("initiator"), 16)
	if err != nil {
		t.Fatalf("subscribe replies: %v", err)
	}
	t.Cleanup(func() { _ = replies.Close() })
	return service, bus, replies
}

func requestScore(t *testing.T, bus *eventbus.MemoryBus, replies *eventbus.Subscription, sagaID, ucid string) eventbus.Reply {
	t.Helper()
	pub, err := eventbus.NewPublisher("initiator", bus, eventbus.DefaultRetryConfig(), nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if _, err := pub.Publish(context.Background(), eventbus.RequestSubject("creditscore"), eventbus.Outbound{
		Kind:      eventbus.KindRequest,
		Operation: eventbus.OpCreditCheck,
		SagaID:    sagaID,
		Payload:   eventbus.Request{UCID: ucid},
	}); err != nil {
		t.Fatalf("publish request: %v", err)
	}

	select {
	case msg := <-replies.C():
		envelope, _, err := eventbus.NewConsumer().Decode(msg.Payload)
		if err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		var reply eventbus.Reply
		if err := envelope.DecodePayload(&reply); err != nil {
			t.Fatalf("decode reply payload: %v", err)
		}
		return reply
	case <-time.After(5 * time.Second):
		t.Fatal("no credit check reply")
		return eventbus.Reply{}
	}
}

func TestCreditCheckKnownCustomer(t *testing.T) {
	service, bus, replies := newTestService(t)
	service.SetScore("UC-1", 785)

	reply := requestScore(t, bus, replies, "saga-1", "UC-1")
	if !reply.Succeeded() {
		t.Fatalf("reply: %+v", reply)
	}
	if reply.CreditScore != 785 {
		t.Fatalf("credit score = %d, want 785", reply.CreditScore)
	}
	if reply.OperationType != eventbus.OpCreditCheck || reply.Participant != "creditscore" {
		t.Fatalf("reply meta: %+v", reply)
	}
}

func TestCreditCheckUnknownCustomer(t *testing.T) {
	_, bus, replies := newTestService(t)

	reply := requestScore(t, bus, replies, "saga-1", "UC-9")
	if reply.Succeeded() {
		t.Fatalf("expected failure reply, got %+v", reply)
	}
	if !strings.Contains(reply.Reason, "no credit history") {
		t.Fatalf("reason = %q", reply.Reason)
	}
}

func TestScoreTable(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	defer bus.Close()
	service, err := NewService("creditscore", "initiator", bus)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, ok := service.Score("UC-1"); ok {
		t.Fatal("score present before set")
	}
	service.SetScore("UC-1", 700)
	score, ok := service.Score("UC-1")
	if !ok || score != 700 {
		t.Fatalf("score = (%d, %v), want (700, true)", score, ok)
	}
	service.SetScore("UC-1", 710)
	if score, _ := service.Score("UC-1"); score != 710 {
		t.Fatalf("score = %d, want 710", score)
	}
}
