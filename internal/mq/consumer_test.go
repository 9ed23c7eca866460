package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// --- Fakes ---

// fakeAcknowledger считает подтверждения: на одну доставку broker ждёт
// ровно одно, второе он встречает ошибкой канала.
type fakeAcknowledger struct {
	mu       sync.Mutex
	acks     int
	nacks    int
	requeues []bool
}

func (a *fakeAcknowledger) Ack(_ uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeues = append(a.requeues, requeue)
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func (a *fakeAcknowledger) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks + a.nacks
}

// --- Test Setup ---

func newTestConsumer(handler Handler) *Consumer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewConsumer(nil, logger, ConsumerConfig{Queue: "test.queue", Handler: handler})
}

func makeDelivery(t *testing.T, ack *fakeAcknowledger, redelivered bool) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(Message{
		ID:        "msg-1",
		Type:      MessageTypeTaskReady,
		Payload:   map[string]any{},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		Redelivered:  redelivered,
	}
}

// --- HandleDelivery Tests ---

func TestHandleDelivery_SuccessAcksOnce(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := newTestConsumer(func(_ context.Context, _ *Delivery) error {
		return nil
	})

	c.handleDelivery(context.Background(), makeDelivery(t, ack, false))

	if ack.acks != 1 {
		t.Errorf("expected 1 ack, got %d", ack.acks)
	}
	if ack.total() != 1 {
		t.Errorf("exactly one acknowledgement per delivery, got %d", ack.total())
	}
}

func TestHandleDelivery_HandlerNeverAcknowledges(t *testing.T) {
	// Подтверждением владеет consumer: даже если handler вернул nil
	// после долгой работы, ack должен быть ровно один.
	ack := &fakeAcknowledger{}
	c := newTestConsumer(func(_ context.Context, d *Delivery) error {
		if d.Message.ID != "msg-1" {
			return fmt.Errorf("unexpected message id %q", d.Message.ID)
		}
		return nil
	})

	c.handleDelivery(context.Background(), makeDelivery(t, ack, false))
	if ack.total() != 1 {
		t.Fatalf("exactly one acknowledgement per delivery, got %d", ack.total())
	}
}

func TestHandleDelivery_MalformedEnvelopeGoesToDLQ(t *testing.T) {
	ack := &fakeAcknowledger{}
	called := false
	c := newTestConsumer(func(_ context.Context, _ *Delivery) error {
		called = true
		return nil
	})

	c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("{not json"),
	})

	if called {
		t.Error("handler must not run for malformed envelope")
	}
	if ack.nacks != 1 || ack.requeues[0] {
		t.Errorf("expected nack without requeue, nacks=%d requeues=%v", ack.nacks, ack.requeues)
	}
}

func TestHandleDelivery_TransientErrorRequeuedOnce(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := newTestConsumer(func(_ context.Context, _ *Delivery) error {
		return errors.New("db unavailable")
	})

	c.handleDelivery(context.Background(), makeDelivery(t, ack, false))

	if ack.nacks != 1 || !ack.requeues[0] {
		t.Errorf("first failure should requeue, nacks=%d requeues=%v", ack.nacks, ack.requeues)
	}
	if ack.total() != 1 {
		t.Errorf("exactly one acknowledgement per delivery, got %d", ack.total())
	}
}

func TestHandleDelivery_RedeliveredFailureGoesToDLQ(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := newTestConsumer(func(_ context.Context, _ *Delivery) error {
		return errors.New("db unavailable")
	})

	c.handleDelivery(context.Background(), makeDelivery(t, ack, true))

	if ack.nacks != 1 || ack.requeues[0] {
		t.Errorf("redelivered failure goes to DLQ, nacks=%d requeues=%v", ack.nacks, ack.requeues)
	}
}

func TestHandleDelivery_BadMessageGoesToDLQImmediately(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := newTestConsumer(func(_ context.Context, _ *Delivery) error {
		return fmt.Errorf("%w: garbage payload", ErrBadMessage)
	})

	// Первая доставка, но requeue кривой payload не исправит.
	c.handleDelivery(context.Background(), makeDelivery(t, ack, false))

	if ack.nacks != 1 || ack.requeues[0] {
		t.Errorf("bad message goes to DLQ without requeue, nacks=%d requeues=%v", ack.nacks, ack.requeues)
	}
}

// --- ParsePayload Tests ---

func TestParsePayload_RoundTrip(t *testing.T) {
	// Payload после Unmarshal конверта — map[string]any, как в настоящем
	// consume-цикле.
	body, _ := json.Marshal(Message{
		ID:      "msg-1",
		Type:    MessageTypeTaskReady,
		Payload: map[string]any{"task_id": "0b2d7f0e-0f42-4a05-9c0e-8f0c1a2b3c4d"},
	})
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	payload, err := ParsePayload[TaskReadyPayload](&msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.TaskID.String() != "0b2d7f0e-0f42-4a05-9c0e-8f0c1a2b3c4d" {
		t.Errorf("unexpected task id: %s", payload.TaskID)
	}
}

func TestParsePayload_InvalidPayload(t *testing.T) {
	msg := Message{Payload: map[string]any{"task_id": "not-a-uuid"}}
	if _, err := ParsePayload[TaskReadyPayload](&msg); err == nil {
		t.Error("expected error for invalid payload")
	}
}
