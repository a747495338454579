package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/events"
	"classifieds/internal/common/logging"
)

const defaultRetryDelay = 5 * time.Second

// Consumer keeps the search index in step with card events.
type Consumer struct {
	ch         *amqp.Channel
	exchange   string
	queue      string
	index      domain.SearchIndex
	retryDelay time.Duration
}

// NewConsumer creates a Consumer that applies events from queue to index.
func NewConsumer(ch *amqp.Channel, exchange, queue string, index domain.SearchIndex) *Consumer {
	return &Consumer{ch: ch, exchange: exchange, queue: queue, index: index, retryDelay: defaultRetryDelay}
}

// WithRetryDelay sets how long a failed event is held before it is requeued.
func (c *Consumer) WithRetryDelay(d time.Duration) *Consumer {
	c.retryDelay = d
	return c
}

// Start declares and binds the durable index queue and consumes it until ctx
// is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	q, err := c.ch.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("could not declare queue: %w", err)
	}

	for _, key := range []string{events.CardSaved, events.CardDeleted} {
		if err := c.ch.QueueBind(q.Name, key, c.exchange, false, nil); err != nil {
			return fmt.Errorf("could not bind queue to %s: %w", key, err)
		}
	}

	msgs, err := c.ch.Consume(
		q.Name, // queue
		"",     // consumer tag
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("could not start consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				c.deliver(ctx, d)
			}
		}
	}()

	return nil
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	err := c.Apply(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case isPoison(err):
		logging.ErrorContext(ctx, "Dropping malformed index event", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
	default:
		logging.WarnContext(ctx, "Index event not applied, requeueing", "message_id", d.MessageId, "retry_in", c.retryDelay, "error", err)
		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
		_ = d.Nack(false, true)
	}
}

type poisonError struct{ err error }

func (e poisonError) Error() string { return e.err.Error() }
func (e poisonError) Unwrap() error { return e.err }

func isPoison(err error) bool {
	var p poisonError
	return errors.As(err, &p)
}

// Apply decodes one event body and writes it to the index. Malformed events
// are reported as errors that must not be retried.
func (c *Consumer) Apply(ctx context.Context, body []byte) error {
	var env events.EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return poisonError{fmt.Errorf("decode envelope: %w", err)}
	}
	ctx = logging.WithCorrelationID(ctx, env.CorrelationID)

	switch env.EventType {
	case events.CardSaved:
		var doc domain.CardDocument
		if err := env.UnmarshalPayload(&doc); err != nil {
			return poisonError{fmt.Errorf("decode %s: %w", env.EventType, err)}
		}
		return c.index.Upsert(ctx, doc)
	case events.CardDeleted:
		var p DeletedPayload
		if err := env.UnmarshalPayload(&p); err != nil {
			return poisonError{fmt.Errorf("decode %s: %w", env.EventType, err)}
		}
		return c.index.Remove(ctx, p.ID)
	default:
		return poisonError{fmt.Errorf("unknown event type %q", env.EventType)}
	}
}
