package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bistrohq/orders-api/internal/app"
)

const publishTimeout = 5 * time.Second

// sender is the slice of Connection the publisher needs.
type sender interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

// Publisher implements app.EventPublisher. The routing key is the event
// type, so consumers bind with patterns such as "order.*".
type Publisher struct {
	out    sender
	source string
}

func NewPublisher(conn *Connection, source string) *Publisher {
	return &Publisher{out: conn, source: source}
}

func (p *Publisher) Publish(ctx context.Context, ev app.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		AppId:        p.source,
		MessageId:    ev.Type + ":" + ev.AggregateID + ":" + ev.OccurredAt.Format(time.RFC3339Nano),
		Body:         body,
	}
	if err := p.out.Publish(ctx, ev.Type, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}
