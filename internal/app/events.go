package app

import (
	"context"
	"log/slog"
	"time"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderUpdated       = "order.updated"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderDeleted       = "order.deleted"
	EventPaymentCreated     = "payment.created"
	EventPaymentCaptured    = "payment.captured"
	EventPaymentFailed      = "payment.failed"
)

// Event is a lifecycle notification emitted after a successful commit.
type Event struct {
	Type        string    `json:"type"`
	AggregateID string    `json:"aggregate_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     any       `json:"payload,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

// publish never fails the caller: the state change is already committed.
func publish(ctx context.Context, pub EventPublisher, logger *slog.Logger, ev Event) {
	if err := pub.Publish(ctx, ev); err != nil {
		logger.WarnContext(ctx, "event publish failed",
			slog.String("event", ev.Type),
			slog.String("aggregate_id", ev.AggregateID),
			slog.Any("error", err),
		)
	}
}
