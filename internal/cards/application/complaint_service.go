package application

import (
	"context"

	"golang.org/x/sync/errgroup"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/logging"
	"classifieds/internal/common/types"
)

// ComplaintService implements moderation: users file complaints about cards
// or other users and admins review them.
type ComplaintService struct {
	gate
	dataStore domain.AtomicExecutor
	repos     domain.Repositories
	cache     *viewCache
	opts      Options
}

// NewComplaintService creates a new ComplaintService.
func NewComplaintService(dataStore DataStore, deps Collaborators, opts Options) *ComplaintService {
	opts = opts.withDefaults()
	return &ComplaintService{
		gate:      gate{identity: deps.Identity, apiKey: opts.APIKey},
		dataStore: dataStore,
		repos:     dataStore,
		cache:     newViewCache(deps.Cache, opts.CacheTTL),
		opts:      opts,
	}
}

// CreateComplaintRequest represents a request to file a complaint.
type CreateComplaintRequest struct {
	Token    string
	Type     string
	TargetID int64
	Reason   string
}

// CreateComplaint files a complaint against an existing card or user.
func (s *ComplaintService) CreateComplaint(ctx context.Context, req CreateComplaintRequest) (domain.ComplaintID, error) {
	ctx, author, err := s.caller(ctx, req.Token)
	if err != nil {
		return 0, err
	}

	kind, err := domain.ParseComplaintType(req.Type)
	if err != nil {
		return 0, err
	}
	complaint, err := domain.NewComplaint(kind, req.TargetID, req.Reason, author.ID, s.opts.Now())
	if err != nil {
		return 0, err
	}

	// The target must exist
	switch kind {
	case domain.ComplaintCard:
		exists, err := s.repos.Cards().Exists(ctx, domain.CardID(req.TargetID))
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, domain.ErrCardNotFound
		}
	case domain.ComplaintUser:
		if _, err := s.identity.UserByID(ctx, req.Token, types.UserID(req.TargetID)); err != nil {
			return 0, remoteError(err, domain.ErrRemoteCall)
		}
	}

	if err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Complaints().Save(ctx, complaint)
	}); err != nil {
		return 0, err
	}

	logging.InfoContext(ctx, "Complaint created",
		"complaint_id", complaint.ID(),
		"type", kind,
		"target_id", req.TargetID,
	)

	return complaint.ID(), nil
}

// ListComplaints returns one page of complaints, optionally filtered by
// type. Only admins may list complaints. Rows whose author or target can no
// longer be resolved are logged and left out of the page.
func (s *ComplaintService) ListComplaints(ctx context.Context, token string, kind domain.ComplaintType, req domain.PageRequest) (domain.ComplaintPage, error) {
	ctx, user, err := s.caller(ctx, token)
	if err != nil {
		return domain.ComplaintPage{}, err
	}
	if !user.IsAdmin() {
		return domain.ComplaintPage{}, domain.ErrPermissionDenied
	}
	if !req.Valid() {
		return domain.ComplaintPage{}, domain.ErrInvalidPage
	}

	return cached(ctx, s.cache, familyComplaints, complaintsKey(kind, req), func(ctx context.Context) (domain.ComplaintPage, error) {
		complaints, total, err := s.repos.Complaints().FindPage(ctx, kind, req)
		if err != nil {
			return domain.ComplaintPage{}, err
		}
		views := s.projectAll(ctx, token, complaints)
		return domain.ComplaintPage{Complaints: views, PageInfo: domain.NewPageInfo(req, total, len(views))}, nil
	})
}

// DeleteComplaint removes a complaint. Only its author or an admin may do so.
func (s *ComplaintService) DeleteComplaint(ctx context.Context, token string, id domain.ComplaintID) error {
	ctx, user, err := s.caller(ctx, token)
	if err != nil {
		return err
	}

	err = s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		complaint, err := repos.Complaints().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !user.CanModify(complaint.AuthorID()) {
			return domain.ErrPermissionDenied
		}
		return repos.Complaints().DeleteByID(ctx, id)
	})
	if err != nil {
		return err
	}

	logging.InfoContext(ctx, "Complaint deleted", "complaint_id", id)
	return nil
}

// DeleteUserComplaints removes every complaint about userID and every
// complaint userID filed. It is called by the identity service when a user
// account is deleted and is gated by the service api key.
func (s *ComplaintService) DeleteUserComplaints(ctx context.Context, apiKey string, userID types.UserID) (int64, error) {
	if err := s.checkAPIKey(apiKey); err != nil {
		return 0, err
	}

	var deleted int64
	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		about, err := repos.Complaints().DeleteByTarget(ctx, domain.ComplaintUser, int64(userID))
		if err != nil {
			return err
		}
		filed, err := repos.Complaints().DeleteByAuthor(ctx, userID)
		if err != nil {
			return err
		}
		deleted = about + filed
		return nil
	})
	if err != nil {
		return 0, err
	}

	logging.InfoContext(ctx, "User complaints deleted", "user_id", userID, "count", deleted)
	return deleted, nil
}

// projectAll resolves author and target names with bounded concurrency.
// Failing rows are skipped; the order of the remaining rows is kept.
func (s *ComplaintService) projectAll(ctx context.Context, token string, complaints []*domain.Complaint) []domain.ComplaintView {
	views := make([]*domain.ComplaintView, len(complaints))

	var g errgroup.Group
	g.SetLimit(s.opts.EnrichConcurrency)
	for i, c := range complaints {
		g.Go(func() error {
			view, err := s.project(ctx, token, c)
			if err != nil {
				logging.WarnContext(ctx, "Complaint skipped", "complaint_id", c.ID(), "error", err)
				return nil
			}
			views[i] = &view
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.ComplaintView, 0, len(views))
	for _, v := range views {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func (s *ComplaintService) project(ctx context.Context, token string, c *domain.Complaint) (domain.ComplaintView, error) {
	view := domain.ComplaintView{
		ID:     c.ID(),
		Type:   c.Type(),
		Reason: c.Reason(),
	}

	var g errgroup.Group
	g.Go(func() error {
		author, err := s.identity.UserByID(ctx, token, c.AuthorID())
		view.AuthorName = author.Name
		return err
	})

	switch c.Type() {
	case domain.ComplaintCard:
		view.CardID = domain.CardID(c.TargetID())
	case domain.ComplaintUser:
		g.Go(func() error {
			target, err := s.identity.UserByID(ctx, token, types.UserID(c.TargetID()))
			view.UserName = target.Name
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return domain.ComplaintView{}, err
	}
	return view, nil
}
