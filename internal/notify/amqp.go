package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// AMQPNotifier publishes owner notifications to a durable fanout exchange.
// The notification workers downstream fan these out to email/push.
type AMQPNotifier struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange}, nil
}

type message struct {
	MemberID  uuid.UUID      `json:"member_id"`
	EventKind string         `json:"event_kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

func (n *AMQPNotifier) Notify(_ context.Context, memberID uuid.UUID, eventKind string, payload map[string]any) {
	body, err := json.Marshal(message{
		MemberID:  memberID,
		EventKind: eventKind,
		Payload:   payload,
		SentAt:    time.Now(),
	})
	if err != nil {
		log.Printf("notify: marshal %s for member %s: %v", eventKind, memberID, err)
		return
	}

	err = n.ch.Publish(n.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		log.Printf("notify: publish %s for member %s: %v", eventKind, memberID, err)
	}
}

func (n *AMQPNotifier) Close() error {
	if err := n.ch.Close(); err != nil {
		_ = n.conn.Close()
		return err
	}
	return n.conn.Close()
}
