package application

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/logging"
	"classifieds/internal/common/saga"
	"classifieds/internal/common/types"
)

// Saga and compensation names. Compensation names double as recovery
// handler names, so they must stay stable across releases.
const (
	sagaCreateCard = "create_card"
	sagaDeleteCard = "delete_card"

	CompensateDeleteImages  = "delete_images"
	CompensateRestoreImages = "restore_images"
	CompensateDeleteCardRow = "delete_card_row"
	CompensateRelinkOwner   = "relink_owner"

	// Steps after which a saga is past its point of no return.
	stepLinkOwner      = "link_owner"
	stepDeleteComments = "delete_comments"
)

// Options holds the tunables shared by the services.
type Options struct {
	MaxImages         int
	CacheTTL          time.Duration
	EnrichConcurrency int
	APIKey            string
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxImages <= 0 {
		o.MaxImages = 5
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Minute
	}
	if o.EnrichConcurrency <= 0 {
		o.EnrichConcurrency = 8
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Collaborators groups the remote services and side stores the
// orchestrators talk to.
type Collaborators struct {
	Identity IdentityGateway
	Images   ImageService
	Comments CommentService
	Cache    Cache
	Index    IndexPublisher
}

// DataStore is the local persistence the services run on.
type DataStore interface {
	domain.AtomicExecutor
	domain.Repositories
}

// CardService orchestrates the card lifecycle across the local store and
// the identity, image and comment services. Multi-service mutations run as
// sagas: every completed step registers a compensation that is replayed in
// reverse order when a later step fails.
type CardService struct {
	gate
	dataStore domain.AtomicExecutor
	repos     domain.Repositories
	images    ImageService
	comments  CommentService
	index     IndexPublisher
	cache     *viewCache
	sagas     *saga.Coordinator
	opts      Options
}

// NewCardService creates a new CardService.
func NewCardService(dataStore DataStore, deps Collaborators, sagas *saga.Coordinator, opts Options) *CardService {
	opts = opts.withDefaults()
	return &CardService{
		gate:      gate{identity: deps.Identity, apiKey: opts.APIKey},
		dataStore: dataStore,
		repos:     dataStore,
		images:    deps.Images,
		comments:  deps.Comments,
		index:     deps.Index,
		cache:     newViewCache(deps.Cache, opts.CacheTTL),
		sagas:     sagas,
		opts:      opts,
	}
}

// CheckToken reports whether token is accepted by the identity service.
func (s *CardService) CheckToken(ctx context.Context, token string) error {
	return s.checkToken(ctx, token)
}

// imagesPayload is the logged payload of image compensations.
type imagesPayload struct {
	ImageIDs []domain.ImageID `json:"image_ids"`
}

// cardPayload is the logged payload of card compensations.
type cardPayload struct {
	CardID domain.CardID `json:"card_id"`
}

// GetCard returns the enriched view of one card, served from the cache when possible.
func (s *CardService) GetCard(ctx context.Context, token string, id domain.CardID) (domain.CardView, error) {
	if err := s.checkToken(ctx, token); err != nil {
		return domain.CardView{}, err
	}

	return cached(ctx, s.cache, familyCard, cardKey(id), func(ctx context.Context) (domain.CardView, error) {
		card, err := s.repos.Cards().FindByID(ctx, id)
		if err != nil {
			return domain.CardView{}, err
		}
		return s.project(ctx, token, card)
	})
}

// AddCardRequest represents a request to create a card.
type AddCardRequest struct {
	Token string
	Title string
	Text  string
	Files []Upload
}

// AddCard creates a card, stores its images and links it to the caller.
// This operation runs as the create_card saga:
//   - persist the card row (compensation: delete the row)
//   - store the uploaded images (compensation: delete them permanently)
//   - attach images and owner to the row
//   - link the card to the owner in the identity service
func (s *CardService) AddCard(ctx context.Context, req AddCardRequest) (domain.CardID, error) {
	// Reject oversized uploads before any remote call
	if len(req.Files) > s.opts.MaxImages {
		return 0, domain.ErrImageLimitExceeded
	}

	ctx, owner, err := s.caller(ctx, req.Token)
	if err != nil {
		return 0, err
	}

	card, err := domain.NewCard(req.Title, req.Text, s.opts.Now())
	if err != nil {
		return 0, err
	}

	ctx, sg, err := s.sagas.Begin(ctx, sagaCreateCard)
	if err != nil {
		return 0, err
	}

	// Persist the row to obtain an id
	if err := sg.Run(ctx, "save_card", func(ctx context.Context) error {
		return s.saveCard(ctx, card)
	}); err != nil {
		return 0, err
	}
	id := card.ID()
	sg.OnRollback(ctx, CompensateDeleteCardRow, cardPayload{CardID: id}, func(ctx context.Context) error {
		return s.deleteCardRow(ctx, id)
	})

	// Store images
	if len(req.Files) > 0 {
		ids, err := saga.Do(ctx, sg, "store_images", func(ctx context.Context) ([]domain.ImageID, error) {
			return s.storeImages(ctx, req.Token, req.Files, 0)
		})
		if err != nil {
			return 0, err
		}
		sg.OnRollback(ctx, CompensateDeleteImages, imagesPayload{ImageIDs: ids}, func(ctx context.Context) error {
			return s.images.DeletePermanently(ctx, req.Token, ids)
		})
		if err := card.AttachImages(ids, s.opts.MaxImages); err != nil {
			return 0, sg.Fail(ctx, err)
		}
	}

	// Attach owner and images to the row
	card.AssignOwner(owner.ID)
	if err := sg.Run(ctx, "attach_images", func(ctx context.Context) error {
		return s.saveCard(ctx, card)
	}); err != nil {
		return 0, err
	}

	// Link the card to its owner
	if err := sg.Run(ctx, stepLinkOwner, func(ctx context.Context) error {
		if err := s.identity.LinkCard(ctx, req.Token, id); err != nil {
			return remoteError(err, domain.ErrCardNotLinked)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	if err := sg.Commit(ctx); err != nil {
		logging.ErrorContext(ctx, "Saga commit not recorded", "saga", sagaCreateCard, "error", err)
	}

	s.publishSaved(ctx, card)

	logging.InfoContext(ctx, "Card created",
		"card_id", id,
		"owner_id", owner.ID,
		"images", card.ImageCount(),
	)

	return id, nil
}

// DeleteCard removes a card and its satellites in the other services.
// This operation runs as the delete_card saga:
//   - purge complaints about the card and its cached view (best-effort)
//   - unlink the card from its owner (compensation: re-link)
//   - move the images to the trash (compensation: restore them)
//   - delete the card's comments, then commit
//
// Comments cannot be restored, so the saga commits once they are gone. The
// trashed images are then deleted permanently (best-effort) and the row is
// removed; a failed row delete is reported for an operator and never rolls
// back the earlier steps.
func (s *CardService) DeleteCard(ctx context.Context, token string, id domain.CardID) error {
	ctx, user, err := s.caller(ctx, token)
	if err != nil {
		return err
	}

	card, err := s.repos.Cards().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !user.CanModify(card.OwnerID()) {
		return domain.ErrPermissionDenied
	}

	// Best-effort cleanup of local satellites
	if n, err := s.repos.Complaints().DeleteByTarget(ctx, domain.ComplaintCard, int64(id)); err != nil {
		logging.WarnContext(ctx, "Card complaints not deleted", "card_id", id, "error", err)
	} else if n > 0 {
		logging.DebugContext(ctx, "Card complaints deleted", "card_id", id, "count", n)
	}
	s.cache.invalidate(ctx, cardKey(id))

	ctx, sg, err := s.sagas.Begin(ctx, sagaDeleteCard)
	if err != nil {
		return err
	}

	// Unlink from owner
	if err := sg.Run(ctx, "unlink_owner", func(ctx context.Context) error {
		if err := s.identity.UnlinkCard(ctx, token, id); err != nil {
			return remoteError(err, domain.ErrCardUnlinkFailed)
		}
		return nil
	}); err != nil {
		return err
	}
	sg.OnRollback(ctx, CompensateRelinkOwner, cardPayload{CardID: id}, func(ctx context.Context) error {
		return s.identity.LinkCard(ctx, token, id)
	})

	// Trash images
	imageIDs := card.ImageIDs()
	if len(imageIDs) > 0 {
		if err := sg.Run(ctx, "trash_images", func(ctx context.Context) error {
			if err := s.images.MoveToTrash(ctx, token, imageIDs); err != nil {
				return remoteError(err, domain.ErrImageNotMoved)
			}
			return nil
		}); err != nil {
			return err
		}
		sg.OnRollback(ctx, CompensateRestoreImages, imagesPayload{ImageIDs: imageIDs}, func(ctx context.Context) error {
			return s.images.RestoreFromTrash(ctx, token, imageIDs)
		})
	}

	// Delete comments
	if err := sg.Run(ctx, stepDeleteComments, func(ctx context.Context) error {
		if err := s.comments.DeleteAllForCard(ctx, token, id); err != nil {
			return remoteError(err, domain.ErrCommentsNotDeleted)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := sg.Commit(ctx); err != nil {
		logging.ErrorContext(ctx, "Saga commit not recorded", "saga", sagaDeleteCard, "error", err)
	}

	if len(imageIDs) > 0 {
		if err := s.images.DeletePermanently(ctx, token, imageIDs); err != nil {
			logging.WarnContext(ctx, "Trashed images not deleted", "card_id", id, "images", imageIDs, "error", err)
		}
	}

	// Delete the row
	if err := s.deleteCardRow(ctx, id); err != nil {
		logging.ErrorContext(ctx, "Card row not deleted after its satellites",
			"kind", "NeedsOperator",
			"card_id", id,
			"error", err,
		)
		return fmt.Errorf("deleting card %d: %w", id, err)
	}

	if err := s.index.PublishDeleted(ctx, id); err != nil {
		logging.WarnContext(ctx, "Search index event not published", "card_id", id, "error", err)
	}

	logging.InfoContext(ctx, "Card deleted", "card_id", id, "images", len(imageIDs))

	return nil
}

// PatchCardRequest represents a partial update of a card. Nil fields are unchanged.
type PatchCardRequest struct {
	Token string
	ID    domain.CardID
	Title *string
	Text  *string
	Files []Upload
}

// PatchCard rewrites a card's title or text and appends new images.
// Partial failures are not compensated.
func (s *CardService) PatchCard(ctx context.Context, req PatchCardRequest) error {
	ctx, user, err := s.caller(ctx, req.Token)
	if err != nil {
		return err
	}

	card, err := s.repos.Cards().FindByID(ctx, req.ID)
	if err != nil {
		return err
	}
	if !user.CanModify(card.OwnerID()) {
		return domain.ErrPermissionDenied
	}

	changed, err := card.Rewrite(req.Title, req.Text)
	if err != nil {
		return err
	}

	var added []domain.ImageID
	if len(req.Files) > 0 {
		if len(req.Files) > card.RemainingImageSlots(s.opts.MaxImages) {
			return domain.ErrImageLimitExceeded
		}
		added, err = s.storeImages(ctx, req.Token, req.Files, card.ImageCount())
		if err != nil {
			return err
		}
		if err := card.AttachImages(added, s.opts.MaxImages); err != nil {
			return err
		}
	}

	if !changed && len(added) == 0 {
		return nil
	}

	if err := s.saveCard(ctx, card); err != nil {
		return err
	}
	s.cache.invalidate(ctx, cardKey(card.ID()))

	if changed {
		s.publishSaved(ctx, card)
	}

	logging.InfoContext(ctx, "Card patched",
		"card_id", card.ID(),
		"text_changed", changed,
		"images_added", len(added),
	)

	return nil
}

// DeleteCardImage detaches one image from a card and deletes it in the image service.
func (s *CardService) DeleteCardImage(ctx context.Context, token string, cardID domain.CardID, imageID domain.ImageID) error {
	ctx, user, err := s.caller(ctx, token)
	if err != nil {
		return err
	}

	card, err := s.repos.Cards().FindByID(ctx, cardID)
	if err != nil {
		return err
	}
	if !user.CanModify(card.OwnerID()) {
		return domain.ErrPermissionDenied
	}
	if !card.HasImage(imageID) {
		return domain.ErrImageNotFound
	}

	if err := s.images.DeleteOne(ctx, token, imageID); err != nil {
		return remoteError(err, domain.ErrImageNotDeleted)
	}

	if err := card.RemoveImage(imageID); err != nil {
		return err
	}
	if err := s.saveCard(ctx, card); err != nil {
		return err
	}
	s.cache.invalidate(ctx, cardKey(cardID))

	logging.InfoContext(ctx, "Card image deleted", "card_id", cardID, "image_id", imageID)

	return nil
}

// ListCards returns one page of cards in id order.
func (s *CardService) ListCards(ctx context.Context, token string, req domain.PageRequest) (domain.CardPage, error) {
	if err := s.checkToken(ctx, token); err != nil {
		return domain.CardPage{}, err
	}
	if !req.Valid() {
		return domain.CardPage{}, domain.ErrInvalidPage
	}

	return cached(ctx, s.cache, familyPage, pageKey(req), func(ctx context.Context) (domain.CardPage, error) {
		cards, total, err := s.repos.Cards().FindPage(ctx, req)
		if err != nil {
			return domain.CardPage{}, err
		}
		views, err := s.projectAll(ctx, token, cards)
		if err != nil {
			return domain.CardPage{}, err
		}
		return domain.CardPage{Cards: views, PageInfo: domain.NewPageInfo(req, total, len(views))}, nil
	})
}

// Search returns one page of cards matching q in rank order.
func (s *CardService) Search(ctx context.Context, token string, q domain.SearchQuery, req domain.PageRequest) (domain.CardPage, error) {
	if err := s.checkToken(ctx, token); err != nil {
		return domain.CardPage{}, err
	}
	if !req.Valid() {
		return domain.CardPage{}, domain.ErrInvalidPage
	}

	return cached(ctx, s.cache, familySearch, searchKey(q, req), func(ctx context.Context) (domain.CardPage, error) {
		ids, total, err := s.repos.SearchIndex().Search(ctx, q, req)
		if err != nil {
			return domain.CardPage{}, err
		}
		cards, err := s.repos.Cards().FindByIDs(ctx, ids)
		if err != nil {
			return domain.CardPage{}, err
		}
		views, err := s.projectAll(ctx, token, cards)
		if err != nil {
			return domain.CardPage{}, err
		}
		return domain.CardPage{Cards: views, PageInfo: domain.NewPageInfo(req, total, len(views))}, nil
	})
}

// ListUserCards returns the title and text of every card a user owns.
// Callers must present both a user token and the service api key.
func (s *CardService) ListUserCards(ctx context.Context, token, apiKey string, owner types.UserID) ([]domain.CardSummary, error) {
	if err := s.checkAPIKey(apiKey); err != nil {
		return nil, err
	}
	if err := s.checkToken(ctx, token); err != nil {
		return nil, err
	}

	cards, err := s.repos.Cards().FindAllByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.CardSummary, len(cards))
	for i, c := range cards {
		summaries[i] = domain.CardSummary{ID: c.ID(), Title: c.Title(), Text: c.Text()}
	}
	return summaries, nil
}

// project enriches a card with its image metadata and owner name.
func (s *CardService) project(ctx context.Context, token string, card *domain.Card) (domain.CardView, error) {
	var (
		images []domain.ImageMeta
		owner  domain.User
	)

	g, gctx := errgroup.WithContext(ctx)
	if ids := card.ImageIDs(); len(ids) > 0 {
		g.Go(func() error {
			var err error
			images, err = s.images.ImageMetadata(gctx, token, ids)
			if err != nil {
				return remoteError(err, domain.ErrRemoteCall)
			}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		owner, err = s.identity.UserByID(gctx, token, card.OwnerID())
		if err != nil {
			return remoteError(err, domain.ErrRemoteCall)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.CardView{}, err
	}

	return domain.NewCardView(card, images, owner.Name), nil
}

// projectAll enriches cards with bounded concurrency, keeping their order.
// The first failure cancels the remaining lookups.
func (s *CardService) projectAll(ctx context.Context, token string, cards []*domain.Card) ([]domain.CardView, error) {
	views := make([]domain.CardView, len(cards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.EnrichConcurrency)
	for i, card := range cards {
		g.Go(func() error {
			view, err := s.project(gctx, token, card)
			if err != nil {
				return err
			}
			views[i] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *CardService) storeImages(ctx context.Context, token string, files []Upload, current int) ([]domain.ImageID, error) {
	ids, err := s.images.StoreImages(ctx, token, files, current)
	if err != nil {
		return nil, remoteError(err, domain.ErrImageNotSaved)
	}
	if len(ids) == 0 {
		return nil, domain.ErrImageNotSaved
	}
	return ids, nil
}

func (s *CardService) saveCard(ctx context.Context, card *domain.Card) error {
	return s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Cards().Save(ctx, card)
	})
}

func (s *CardService) deleteCardRow(ctx context.Context, id domain.CardID) error {
	return s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Cards().DeleteByID(ctx, id)
	})
}

func (s *CardService) publishSaved(ctx context.Context, card *domain.Card) {
	if err := s.index.PublishSaved(ctx, domain.NewCardDocument(card)); err != nil {
		logging.WarnContext(ctx, "Search index event not published", "card_id", card.ID(), "error", err)
	}
}
