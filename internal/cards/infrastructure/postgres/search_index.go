package postgres

import (
	"context"
	"time"

	"classifieds/internal/cards/domain"
)

// SearchIndex implements domain.SearchIndex on a Postgres full-text column.
// card_documents.document weights the title above the text.
type SearchIndex struct {
	db Executor
}

// NewSearchIndex creates a new SearchIndex.
func NewSearchIndex(db Executor) *SearchIndex {
	return &SearchIndex{db: db}
}

// Upsert adds or replaces the document for doc.ID. Documents of removed
// cards are ignored, so a save event redelivered after the delete event
// cannot bring the card back.
func (i *SearchIndex) Upsert(ctx context.Context, doc domain.CardDocument) error {
	_, err := i.db.Exec(ctx, `
		INSERT INTO card_documents (card_id, title, text, created_on)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (SELECT 1 FROM card_tombstones WHERE card_id = $1)
		ON CONFLICT (card_id) DO UPDATE
		SET title = EXCLUDED.title,
			text = EXCLUDED.text,
			created_on = EXCLUDED.created_on`,
		int64(doc.ID), doc.Title, doc.Text, doc.CreatedOn,
	)
	return err
}

// Remove drops the document for id and leaves a tombstone for it.
func (i *SearchIndex) Remove(ctx context.Context, id domain.CardID) error {
	_, err := i.db.Exec(ctx, `
		WITH dropped AS (
			DELETE FROM card_documents WHERE card_id = $1
		)
		INSERT INTO card_tombstones (card_id) VALUES ($1)
		ON CONFLICT (card_id) DO NOTHING`,
		int64(id),
	)
	return err
}

// Search returns matching card ids, best rank first, and the total match count.
func (i *SearchIndex) Search(ctx context.Context, q domain.SearchQuery, req domain.PageRequest) ([]domain.CardID, int64, error) {
	var since *time.Time
	if q.Since != nil {
		s := q.Since.UTC()
		since = &s
	}

	var total int64
	err := i.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM card_documents
		WHERE document @@ websearch_to_tsquery('simple', $1)
		  AND ($2::timestamptz IS NULL OR created_on >= $2)`,
		q.Text, since,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := i.db.Query(ctx, `
		SELECT card_id
		FROM card_documents, websearch_to_tsquery('simple', $1) AS query
		WHERE document @@ query
		  AND ($2::timestamptz IS NULL OR created_on >= $2)
		ORDER BY ts_rank(document, query) DESC, card_id
		LIMIT $3 OFFSET $4`,
		q.Text, since, req.Limit, req.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ids []domain.CardID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, domain.CardID(id))
	}
	return ids, total, rows.Err()
}

var _ domain.SearchIndex = (*SearchIndex)(nil)
