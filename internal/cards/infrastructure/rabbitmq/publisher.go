package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
	"classifieds/internal/common/events"
	"classifieds/internal/common/logging"
	"classifieds/internal/common/metrics"
)

// Channel is the publishing side of *amqp.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// DeletedPayload is the body of a card.deleted event.
type DeletedPayload struct {
	ID domain.CardID `json:"id"`
}

// Publisher announces card changes on the topic exchange, one routing key
// per event type.
type Publisher struct {
	mu       sync.Mutex
	ch       Channel
	exchange string
	now      func() time.Time
}

// NewPublisher creates a Publisher on ch.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, now: time.Now}
}

// PublishSaved announces a created or edited card.
func (p *Publisher) PublishSaved(ctx context.Context, doc domain.CardDocument) error {
	return p.publish(ctx, events.CardSaved, doc)
}

// PublishDeleted announces a deleted card.
func (p *Publisher) PublishDeleted(ctx context.Context, id domain.CardID) error {
	return p.publish(ctx, events.CardDeleted, DeletedPayload{ID: id})
}

func (p *Publisher) publish(ctx context.Context, eventType string, payload any) (err error) {
	defer func() { metrics.RecordIndexEvent(eventType, err) }()

	env, err := events.NewEventEnvelope(eventType, logging.CorrelationIDFromContext(ctx), payload, p.now())
	if err != nil {
		return fmt.Errorf("could not build %s event: %w", eventType, err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("could not marshal %s event: %w", eventType, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		eventType,  // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.EventID.String(),
			CorrelationId: env.CorrelationID.String(),
			Timestamp:     env.OccurredAt,
			Type:          eventType,
			Body:          body,
		},
	)
}

var _ application.IndexPublisher = (*Publisher)(nil)
