package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRequestCreated MessageType = "request.created"
	MessageTypeTaskReady      MessageType = "task.ready"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RequestCreatedPayload — сигнал о новом request.
// Потребитель: dispatcher.
type RequestCreatedPayload struct {
	RequestID uuid.UUID `json:"request_id"`
	EventID   uuid.UUID `json:"event_id"`
}

// TaskReadyPayload — сигнал о task, готовом к выполнению.
// Потребитель: worker.
type TaskReadyPayload struct {
	TaskID    uuid.UUID `json:"task_id"`
	RequestID uuid.UUID `json:"request_id"`
}

// Publisher публикует сообщения в RabbitMQ.
//
// Сообщения — всего лишь "будильники": вся истина лежит в БД, поэтому
// потеря сообщения не теряет работу, а лишь откладывает её до ближайшего
// polling-цикла.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRequestCreated публикует сигнал о новом request.
func (p *Publisher) PublishRequestCreated(ctx context.Context, requestID, eventID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRequestCreated,
		Payload:   RequestCreatedPayload{RequestID: requestID, EventID: eventID},
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeRequests, RoutingKeyCreated, msg)
}

// PublishTaskReady публикует сигнал о task, готовом к выполнению.
func (p *Publisher) PublishTaskReady(ctx context.Context, taskID, requestID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskReady,
		Payload:   TaskReadyPayload{TaskID: taskID, RequestID: requestID},
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeTasks, RoutingKeyReady, msg)
}
