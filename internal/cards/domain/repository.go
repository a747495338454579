package domain

import (
	"context"
	"time"

	"classifieds/internal/common/types"
)

// CardRepository defines the interface for card persistence.
type CardRepository interface {
	// Save inserts the card when it has no id yet (assigning one) and updates it otherwise.
	Save(ctx context.Context, card *Card) error
	// FindByID retrieves a card by ID.
	// Returns ErrCardNotFound when no record exists.
	FindByID(ctx context.Context, id CardID) (*Card, error)
	// FindByIDs retrieves the cards that exist among ids, in the order of ids.
	FindByIDs(ctx context.Context, ids []CardID) ([]*Card, error)
	// Exists reports whether a card with the id is stored.
	Exists(ctx context.Context, id CardID) (bool, error)
	// DeleteByID removes a card. Deleting a missing card is not an error.
	DeleteByID(ctx context.Context, id CardID) error
	// FindPage returns one page of cards ordered by id and the total row count.
	FindPage(ctx context.Context, req PageRequest) ([]*Card, int64, error)
	// FindAllByOwner returns every card owned by the user.
	FindAllByOwner(ctx context.Context, owner types.UserID) ([]*Card, error)
}

// ComplaintRepository defines the interface for complaint persistence.
type ComplaintRepository interface {
	// Save inserts a new complaint and assigns its id.
	Save(ctx context.Context, complaint *Complaint) error
	// FindByID retrieves a complaint by ID.
	// Returns ErrComplaintNotFound when no record exists.
	FindByID(ctx context.Context, id ComplaintID) (*Complaint, error)
	// FindPage returns one page of complaints of the given type ("" for all) and the total count.
	FindPage(ctx context.Context, kind ComplaintType, req PageRequest) ([]*Complaint, int64, error)
	// DeleteByID removes one complaint.
	DeleteByID(ctx context.Context, id ComplaintID) error
	// DeleteByTarget removes every complaint of kind about targetID.
	DeleteByTarget(ctx context.Context, kind ComplaintType, targetID int64) (int64, error)
	// DeleteByAuthor removes every complaint written by author.
	DeleteByAuthor(ctx context.Context, author types.UserID) (int64, error)
}

// CardDocument is the search index entry for a card.
type CardDocument struct {
	ID        CardID    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	CreatedOn time.Time `json:"createTime"`
}

// NewCardDocument derives the index entry for card.
func NewCardDocument(card *Card) CardDocument {
	return CardDocument{
		ID:        card.ID(),
		Title:     card.Title(),
		Text:      card.Text(),
		CreatedOn: card.CreatedAt(),
	}
}

// SearchQuery is a full-text query with an optional created-on-or-after filter.
type SearchQuery struct {
	Text  string
	Since *time.Time
}

// SearchIndex defines the full-text card index.
type SearchIndex interface {
	// Upsert adds or replaces the entry for doc.ID.
	Upsert(ctx context.Context, doc CardDocument) error
	// Remove drops the entry for id. Removing a missing entry is not an error.
	Remove(ctx context.Context, id CardID) error
	// Search returns the ids of matching cards, best match first, and the total match count.
	Search(ctx context.Context, q SearchQuery, req PageRequest) ([]CardID, int64, error)
}

// Repositories provides access to all repositories within a transaction.
// This is used with the Atomic pattern to ensure all operations share the same transaction.
type Repositories interface {
	Cards() CardRepository
	Complaints() ComplaintRepository
	SearchIndex() SearchIndex
}

// AtomicCallback is the function signature for atomic operations.
// Any error returned will cause the transaction to be rolled back.
type AtomicCallback func(repos Repositories) error

// AtomicExecutor runs a set of repository operations as one local transaction.
// Only local persistence is covered: remote side effects issued from inside
// the callback are not undone by a rollback.
//
// Example usage:
//
//	err := executor.Atomic(ctx, func(repos Repositories) error {
//	    card, err := repos.Cards().FindByID(ctx, id)
//	    if err != nil {
//	        return err
//	    }
//	    if err := card.RemoveImage(imageID); err != nil {
//	        return err
//	    }
//	    return repos.Cards().Save(ctx, card)
//	})
type AtomicExecutor interface {
	// Atomic executes the callback within a database transaction.
	// If the callback returns nil, the transaction is committed.
	// If the callback returns an error, the transaction is rolled back.
	Atomic(ctx context.Context, fn AtomicCallback) error
}
