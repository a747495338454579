package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/types"
)

const cardColumns = `id, title, text, created_at, owner_id, image_ids`

// CardRepository implements domain.CardRepository using PostgreSQL.
type CardRepository struct {
	db Executor
}

// NewCardRepository creates a new CardRepository.
func NewCardRepository(db Executor) *CardRepository {
	return &CardRepository{db: db}
}

// Save inserts a new card and assigns its id, or updates an existing one.
// Returns ErrCardNotFound when updating a row that no longer exists.
func (r *CardRepository) Save(ctx context.Context, card *domain.Card) error {
	if !card.IsPersisted() {
		var id int64
		err := r.db.QueryRow(ctx, `
			INSERT INTO cards (title, text, created_at, owner_id, image_ids)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			card.Title(),
			card.Text(),
			card.CreatedAt(),
			int64(card.OwnerID()),
			imageIDsToInt64(card.ImageIDs()),
		).Scan(&id)
		if err != nil {
			return err
		}
		card.AssignID(domain.CardID(id))
		return nil
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE cards
		SET title = $1,
			text = $2,
			owner_id = $3,
			image_ids = $4,
			updated_at = NOW()
		WHERE id = $5`,
		card.Title(),
		card.Text(),
		int64(card.OwnerID()),
		imageIDsToInt64(card.ImageIDs()),
		int64(card.ID()),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCardNotFound
	}
	return nil
}

// FindByID retrieves a card by ID.
func (r *CardRepository) FindByID(ctx context.Context, id domain.CardID) (*domain.Card, error) {
	card, err := scanCard(r.db.QueryRow(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE id = $1`,
		int64(id),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCardNotFound
	}
	return card, err
}

// FindByIDs retrieves the existing cards among ids, in the order of ids.
func (r *CardRepository) FindByIDs(ctx context.Context, ids []domain.CardID) ([]*domain.Card, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	return r.findMany(ctx, `
		SELECT c.id, c.title, c.text, c.created_at, c.owner_id, c.image_ids
		FROM unnest($1::bigint[]) WITH ORDINALITY AS wanted(id, ord)
		JOIN cards c ON c.id = wanted.id
		ORDER BY wanted.ord`,
		raw,
	)
}

// Exists reports whether a card row is stored.
func (r *CardRepository) Exists(ctx context.Context, id domain.CardID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cards WHERE id = $1)`, int64(id)).Scan(&exists)
	return exists, err
}

// DeleteByID removes a card row.
func (r *CardRepository) DeleteByID(ctx context.Context, id domain.CardID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM cards WHERE id = $1`, int64(id))
	return err
}

// FindPage returns one page of cards ordered by id together with the total count.
func (r *CardRepository) FindPage(ctx context.Context, req domain.PageRequest) ([]*domain.Card, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM cards`).Scan(&total); err != nil {
		return nil, 0, err
	}
	cards, err := r.findMany(ctx,
		`SELECT `+cardColumns+` FROM cards ORDER BY id LIMIT $1 OFFSET $2`,
		req.Limit, req.Offset(),
	)
	return cards, total, err
}

// FindAllByOwner returns every card owned by owner, ordered by id.
func (r *CardRepository) FindAllByOwner(ctx context.Context, owner types.UserID) ([]*domain.Card, error) {
	return r.findMany(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE owner_id = $1 ORDER BY id`,
		int64(owner),
	)
}

func (r *CardRepository) findMany(ctx context.Context, query string, args ...any) ([]*domain.Card, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func scanCard(row pgx.Row) (*domain.Card, error) {
	var (
		id        int64
		title     string
		text      string
		createdAt time.Time
		ownerID   int64
		imageIDs  []int64
	)
	if err := row.Scan(&id, &title, &text, &createdAt, &ownerID, &imageIDs); err != nil {
		return nil, err
	}
	return domain.ReconstructCard(
		domain.CardID(id),
		title,
		text,
		createdAt,
		types.UserID(ownerID),
		int64ToImageIDs(imageIDs),
	), nil
}

func imageIDsToInt64(ids []domain.ImageID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func int64ToImageIDs(raw []int64) []domain.ImageID {
	out := make([]domain.ImageID, len(raw))
	for i, id := range raw {
		out[i] = domain.ImageID(id)
	}
	return out
}

var _ domain.CardRepository = (*CardRepository)(nil)
