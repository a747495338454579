package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"classifieds/internal/common/logging"
)

const exchangeType = "topic"

// Session holds one broker connection with separate channels for consuming
// and publishing. A channel exception on one side does not close the other.
type Session struct {
	Conn    *amqp.Connection
	Consume *amqp.Channel
	Publish *amqp.Channel
}

// Close closes both channels and the connection.
func (s *Session) Close() error {
	var errs []error
	for _, ch := range []*amqp.Channel{s.Publish, s.Consume} {
		if ch != nil && !ch.IsClosed() {
			errs = append(errs, ch.Close())
		}
	}
	if s.Conn != nil && !s.Conn.IsClosed() {
		errs = append(errs, s.Conn.Close())
	}
	return errors.Join(errs...)
}

// Dial connects to the broker, retrying while it starts up, opens the
// consume and publish channels and declares the card exchange.
func Dial(ctx context.Context, url, exchange string) (*Session, error) {
	var conn *amqp.Connection
	var err error

	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logging.WarnContext(ctx, "Failed to connect to RabbitMQ", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	s := &Session{Conn: conn}
	if s.Consume, err = conn.Channel(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not open consume channel: %w", err)
	}
	if s.Publish, err = conn.Channel(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not open publish channel: %w", err)
	}

	err = s.Publish.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return s, nil
}
