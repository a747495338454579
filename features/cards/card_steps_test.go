package cards

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
	"classifieds/internal/cards/infrastructure/memory"
	"classifieds/internal/common/saga"
	"classifieds/internal/common/types"
)

// collaborators stands in for the identity, image and comment services and
// records the state each of them would hold.
type collaborators struct {
	mu          sync.Mutex
	users       map[string]domain.User
	links       map[domain.CardID]string
	refuseLinks bool
	nextImage   domain.ImageID
	active      map[domain.ImageID]bool
	trashed     map[domain.ImageID]bool
	deleted     map[domain.ImageID]bool
	commentsErr error
}

func newCollaborators() *collaborators {
	return &collaborators{
		users:     make(map[string]domain.User),
		links:     make(map[domain.CardID]string),
		nextImage: 100,
		active:    make(map[domain.ImageID]bool),
		trashed:   make(map[domain.ImageID]bool),
		deleted:   make(map[domain.ImageID]bool),
	}
}

func (c *collaborators) ValidateToken(ctx context.Context, token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.users[token]
	return ok, nil
}

func (c *collaborators) UserByToken(ctx context.Context, token string) (domain.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[token]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (c *collaborators) UserByID(ctx context.Context, token string, id types.UserID) (domain.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (c *collaborators) LinkCard(ctx context.Context, token string, card domain.CardID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuseLinks {
		return errors.New("identity: status 503")
	}
	c.links[card] = token
	return nil
}

func (c *collaborators) UnlinkCard(ctx context.Context, token string, card domain.CardID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.links, card)
	return nil
}

func (c *collaborators) StoreImages(ctx context.Context, token string, files []application.Upload, currentCount int) ([]domain.ImageID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]domain.ImageID, len(files))
	for i := range files {
		c.nextImage++
		ids[i] = c.nextImage
		c.active[c.nextImage] = true
	}
	return ids, nil
}

func (c *collaborators) ImageMetadata(ctx context.Context, token string, ids []domain.ImageID) ([]domain.ImageMeta, error) {
	out := make([]domain.ImageMeta, len(ids))
	for i, id := range ids {
		out[i] = domain.ImageMeta{ID: id, Bucket: "images", Name: id.String()}
	}
	return out, nil
}

func (c *collaborators) MoveToTrash(ctx context.Context, token string, ids []domain.ImageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.active, id)
		c.trashed[id] = true
	}
	return nil
}

func (c *collaborators) RestoreFromTrash(ctx context.Context, token string, ids []domain.ImageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.trashed, id)
		c.active[id] = true
	}
	return nil
}

func (c *collaborators) DeletePermanently(ctx context.Context, token string, ids []domain.ImageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.active, id)
		delete(c.trashed, id)
		c.deleted[id] = true
	}
	return nil
}

func (c *collaborators) DeleteOne(ctx context.Context, token string, id domain.ImageID) error {
	return c.DeletePermanently(ctx, token, []domain.ImageID{id})
}

func (c *collaborators) DeleteAllForCard(ctx context.Context, token string, card domain.CardID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commentsErr
}

type cardState struct {
	ctx        context.Context
	remote     *collaborators
	store      *memory.DataStore
	dispatcher *saga.Dispatcher
	service    *application.CardService
	token      string
	owner      types.UserID
	lastCardID domain.CardID
	lastError  error
}

func InitializeCardScenario(ctx *godog.ScenarioContext) {
	state := &cardState{ctx: context.Background()}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		state.reset()
		return ctx, nil
	})

	ctx.Step(`^user (\d+) is signed in with token "([^"]*)"$`, state.userIsSignedIn)
	ctx.Step(`^I own card (\d+) with images "([^"]*)"$`, state.iOwnCardWithImages)
	ctx.Step(`^the comment service is failing$`, state.theCommentServiceIsFailing)
	ctx.Step(`^the identity service refuses to link cards$`, state.theIdentityServiceRefusesToLink)

	ctx.Step(`^I create a card titled "([^"]*)" with text "([^"]*)" and (\d+) files$`, state.iCreateACard)
	ctx.Step(`^I delete card (\d+)$`, state.iDeleteCard)

	ctx.Step(`^the card should be saved with title "([^"]*)", owner (\d+) and images "([^"]*)"$`, state.theCardShouldBeSaved)
	ctx.Step(`^the identity service should have linked the card for token "([^"]*)"$`, state.theCardShouldBeLinkedFor)
	ctx.Step(`^the request should fail with "([^"]*)"$`, state.theRequestShouldFailWith)
	ctx.Step(`^card (\d+) should still exist$`, state.cardShouldStillExist)
	ctx.Step(`^card (\d+) should be linked to its owner$`, state.cardShouldBeLinked)
	ctx.Step(`^images "([^"]*)" should be in the active bucket$`, state.imagesShouldBeActive)
	ctx.Step(`^images "([^"]*)" should be deleted$`, state.imagesShouldBeDeleted)
	ctx.Step(`^no card should remain in the store$`, state.noCardShouldRemain)
}

func (s *cardState) reset() {
	s.remote = newCollaborators()
	s.store = memory.NewDataStore()
	s.dispatcher = saga.NewDispatcher(5 * time.Second)
	s.lastCardID = 0
	s.lastError = nil

	deps := application.Collaborators{
		Identity: s.remote,
		Images:   s.remote,
		Comments: s.remote,
		Cache:    memory.NewCache(nil),
		Index:    memory.NewIndexPublisher(s.store.SearchIndex()),
	}
	coordinator := saga.NewCoordinator(saga.NewMemoryLog(nil), s.dispatcher)
	s.service = application.NewCardService(s.store, deps, coordinator, application.Options{MaxImages: 5})
}

func parseImageIDs(raw string) ([]domain.ImageID, error) {
	var ids []domain.ImageID
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad image id %q: %w", part, err)
		}
		ids = append(ids, domain.ImageID(n))
	}
	return ids, nil
}

func (s *cardState) userIsSignedIn(id int, token string) error {
	s.token = token
	s.owner = types.UserID(id)
	s.remote.users[token] = domain.User{ID: s.owner, Name: "alice"}
	return nil
}

func (s *cardState) iOwnCardWithImages(id int, images string) error {
	ids, err := parseImageIDs(images)
	if err != nil {
		return err
	}
	card := domain.ReconstructCard(domain.CardID(id), "Bike", "Good condition", time.Now().UTC(), s.owner, ids)
	if err := s.store.Cards().Save(s.ctx, card); err != nil {
		return err
	}
	s.remote.links[card.ID()] = s.token
	for _, img := range ids {
		s.remote.active[img] = true
	}
	return nil
}

func (s *cardState) theCommentServiceIsFailing() error {
	s.remote.commentsErr = errors.New("comment: status 500")
	return nil
}

func (s *cardState) theIdentityServiceRefusesToLink() error {
	s.remote.refuseLinks = true
	return nil
}

func (s *cardState) iCreateACard(title, text string, files int) error {
	uploads := make([]application.Upload, files)
	for i := range uploads {
		uploads[i] = application.Upload{Name: fmt.Sprintf("photo-%d.jpg", i), ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	}

	s.lastCardID, s.lastError = s.service.AddCard(s.ctx, application.AddCardRequest{
		Token: s.token,
		Title: title,
		Text:  text,
		Files: uploads,
	})
	// Compensations run in the background; settle them before asserting.
	s.dispatcher.Wait()
	return nil
}

func (s *cardState) iDeleteCard(id int) error {
	s.lastError = s.service.DeleteCard(s.ctx, s.token, domain.CardID(id))
	s.dispatcher.Wait()
	return nil
}

func (s *cardState) theCardShouldBeSaved(title string, owner int, images string) error {
	if s.lastError != nil {
		return fmt.Errorf("expected card to be created, got error: %v", s.lastError)
	}
	want, err := parseImageIDs(images)
	if err != nil {
		return err
	}

	card, err := s.store.Cards().FindByID(s.ctx, s.lastCardID)
	if err != nil {
		return fmt.Errorf("card %d not persisted: %w", s.lastCardID, err)
	}
	if card.Title() != title {
		return fmt.Errorf("expected title %q, got %q", title, card.Title())
	}
	if card.OwnerID() != types.UserID(owner) {
		return fmt.Errorf("expected owner %d, got %d", owner, card.OwnerID())
	}
	if !slices.Equal(card.ImageIDs(), want) {
		return fmt.Errorf("expected images %v, got %v", want, card.ImageIDs())
	}
	return nil
}

func (s *cardState) theCardShouldBeLinkedFor(token string) error {
	if got := s.remote.links[s.lastCardID]; got != token {
		return fmt.Errorf("expected card %d linked with token %q, got %q", s.lastCardID, token, got)
	}
	return nil
}

func (s *cardState) theRequestShouldFailWith(errorMsg string) error {
	if s.lastError == nil {
		return errors.New("expected the request to fail, but it succeeded")
	}

	expectedErrors := map[string]error{
		"comments were not deleted": domain.ErrCommentsNotDeleted,
		"owner link failed":         domain.ErrCardNotLinked,
	}

	if expected, ok := expectedErrors[errorMsg]; ok {
		if !errors.Is(s.lastError, expected) {
			return fmt.Errorf("expected error %q, got: %v", errorMsg, s.lastError)
		}
		return nil
	}

	if !strings.Contains(s.lastError.Error(), errorMsg) {
		return fmt.Errorf("expected error containing %q, got: %v", errorMsg, s.lastError)
	}
	return nil
}

func (s *cardState) cardShouldStillExist(id int) error {
	exists, err := s.store.Cards().Exists(s.ctx, domain.CardID(id))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("card %d was deleted", id)
	}
	return nil
}

func (s *cardState) cardShouldBeLinked(id int) error {
	if _, ok := s.remote.links[domain.CardID(id)]; !ok {
		return fmt.Errorf("card %d is not linked to its owner", id)
	}
	return nil
}

func (s *cardState) imagesShouldBeActive(images string) error {
	ids, err := parseImageIDs(images)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !s.remote.active[id] || s.remote.trashed[id] {
			return fmt.Errorf("image %d is not in the active bucket", id)
		}
	}
	return nil
}

func (s *cardState) imagesShouldBeDeleted(images string) error {
	ids, err := parseImageIDs(images)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !s.remote.deleted[id] {
			return fmt.Errorf("image %d was not deleted", id)
		}
	}
	return nil
}

func (s *cardState) noCardShouldRemain() error {
	_, total, err := s.store.Cards().FindPage(s.ctx, domain.PageRequest{Page: 0, Limit: 10})
	if err != nil {
		return err
	}
	if total != 0 {
		return fmt.Errorf("expected no cards, found %d", total)
	}
	return nil
}
