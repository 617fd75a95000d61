// Package messaging publishes order and payment lifecycle events to RabbitMQ.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "restaurant_events"

	dialAttempts = 5
)

// Connection owns one AMQP connection and channel and re-dials on demand.
type Connection struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to url and declares the durable topic exchange. It retries
// with linear backoff until ctx is done.
func Dial(ctx context.Context, url, exchange string, logger *slog.Logger) (*Connection, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{url: url, exchange: exchange, logger: logger}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) connect(ctx context.Context) error {
	var err error
	for i := 0; i < dialAttempts; i++ {
		if err = c.open(); err == nil {
			return nil
		}
		if i == dialAttempts-1 {
			break
		}
		wait := time.Duration(i+1) * time.Second
		c.logger.WarnContext(ctx, "rabbitmq connect failed, retrying",
			slog.Int("attempt", i+1),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("connect to rabbitmq after %d attempts: %w", dialAttempts, err)
}

func (c *Connection) open() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(c.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()
	return nil
}

// Publish sends msg on the exchange, re-dialing once if the connection dropped.
func (c *Connection) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	c.mu.Lock()
	closed := c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed()
	c.mu.Unlock()
	if closed {
		if err := c.open(); err != nil {
			return fmt.Errorf("reconnect to rabbitmq: %w", err)
		}
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	return ch.PublishWithContext(ctx, c.exchange, routingKey, false, false, msg)
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
