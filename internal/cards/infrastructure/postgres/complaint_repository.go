package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/types"
)

const complaintColumns = `id, type, target_id, reason, author_id, created_at`

// ComplaintRepository implements domain.ComplaintRepository using PostgreSQL.
type ComplaintRepository struct {
	db Executor
}

// NewComplaintRepository creates a new ComplaintRepository.
func NewComplaintRepository(db Executor) *ComplaintRepository {
	return &ComplaintRepository{db: db}
}

// Save inserts a complaint and assigns its id.
func (r *ComplaintRepository) Save(ctx context.Context, c *domain.Complaint) error {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO complaints (type, target_id, reason, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		string(c.Type()),
		c.TargetID(),
		c.Reason(),
		int64(c.AuthorID()),
		c.CreatedAt(),
	).Scan(&id)
	if err != nil {
		return err
	}
	c.AssignID(domain.ComplaintID(id))
	return nil
}

// FindByID retrieves a complaint by ID.
func (r *ComplaintRepository) FindByID(ctx context.Context, id domain.ComplaintID) (*domain.Complaint, error) {
	c, err := scanComplaint(r.db.QueryRow(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE id = $1`,
		int64(id),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrComplaintNotFound
	}
	return c, err
}

// FindPage returns complaints of kind, or of every kind when kind is empty.
func (r *ComplaintRepository) FindPage(ctx context.Context, kind domain.ComplaintType, req domain.PageRequest) ([]*domain.Complaint, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM complaints WHERE ($1::text = '' OR type = $1)`,
		string(kind),
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+complaintColumns+`
		FROM complaints
		WHERE ($1::text = '' OR type = $1)
		ORDER BY id
		LIMIT $2 OFFSET $3`,
		string(kind), req.Limit, req.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// DeleteByID removes one complaint.
func (r *ComplaintRepository) DeleteByID(ctx context.Context, id domain.ComplaintID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM complaints WHERE id = $1`, int64(id))
	return err
}

// DeleteByTarget removes every complaint of kind about targetID.
func (r *ComplaintRepository) DeleteByTarget(ctx context.Context, kind domain.ComplaintType, targetID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM complaints WHERE type = $1 AND target_id = $2`,
		string(kind), targetID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteByAuthor removes every complaint written by author.
func (r *ComplaintRepository) DeleteByAuthor(ctx context.Context, author types.UserID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM complaints WHERE author_id = $1`, int64(author))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanComplaint(row pgx.Row) (*domain.Complaint, error) {
	var (
		id        int64
		kind      string
		targetID  int64
		reason    string
		authorID  int64
		createdAt time.Time
	)
	if err := row.Scan(&id, &kind, &targetID, &reason, &authorID, &createdAt); err != nil {
		return nil, err
	}
	return domain.ReconstructComplaint(
		domain.ComplaintID(id),
		domain.ComplaintType(kind),
		targetID,
		reason,
		types.UserID(authorID),
		createdAt,
	), nil
}

var _ domain.ComplaintRepository = (*ComplaintRepository)(nil)
