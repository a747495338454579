package memory

import (
	"context"

	"classifieds/internal/cards/domain"
)

// IndexPublisher applies index changes straight to a SearchIndex,
// standing in for the broker when the service runs without RabbitMQ.
type IndexPublisher struct {
	index domain.SearchIndex
}

// NewIndexPublisher creates a publisher writing into index.
func NewIndexPublisher(index domain.SearchIndex) *IndexPublisher {
	return &IndexPublisher{index: index}
}

func (p *IndexPublisher) PublishSaved(ctx context.Context, doc domain.CardDocument) error {
	return p.index.Upsert(ctx, doc)
}

func (p *IndexPublisher) PublishDeleted(ctx context.Context, id domain.CardID) error {
	return p.index.Remove(ctx, id)
}
