package application_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
	"classifieds/internal/cards/infrastructure/memory"
	"classifieds/internal/common/saga"
	"classifieds/internal/common/types"
)

var errUnavailable = errors.New("service unavailable")

// call is one recorded collaborator invocation.
type call struct {
	Op    string
	Token string
	IDs   []int64
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) record(op, token string, ids ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{Op: op, Token: token, IDs: ids})
}

// ops returns the names of the recorded calls in order.
func (r *recorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Op
	}
	return out
}

func (r *recorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (r *recorder) last(op string) (call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Op == op {
			return r.calls[i], true
		}
	}
	return call{}, false
}

func imageInts(ids []domain.ImageID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

type fakeIdentity struct {
	recorder
	mu      sync.Mutex
	byToken map[string]domain.User
	byID    map[types.UserID]domain.User
	fail    map[string]error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		byToken: make(map[string]domain.User),
		byID:    make(map[types.UserID]domain.User),
		fail:    make(map[string]error),
	}
}

// addUser registers user under token.
func (f *fakeIdentity) addUser(token string, user domain.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byToken[token] = user
	f.byID[user.ID] = user
}

func (f *fakeIdentity) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeIdentity) err(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[op]
}

func (f *fakeIdentity) ValidateToken(ctx context.Context, token string) (bool, error) {
	f.record("validate", token)
	if err := f.err("validate"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byToken[token]
	return ok, nil
}

func (f *fakeIdentity) UserByToken(ctx context.Context, token string) (domain.User, error) {
	f.record("user_by_token", token)
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.byToken[token]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeIdentity) UserByID(ctx context.Context, token string, id types.UserID) (domain.User, error) {
	f.record("user_by_id", token, int64(id))
	if err := f.err("user_by_id"); err != nil {
		return domain.User{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.byID[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeIdentity) LinkCard(ctx context.Context, token string, card domain.CardID) error {
	f.record("link", token, int64(card))
	return f.err("link")
}

func (f *fakeIdentity) UnlinkCard(ctx context.Context, token string, card domain.CardID) error {
	f.record("unlink", token, int64(card))
	return f.err("unlink")
}

type fakeImages struct {
	recorder
	mu     sync.Mutex
	nextID domain.ImageID
	meta   map[domain.ImageID]domain.ImageMeta
	fail   map[string]error
	store  []domain.ImageID
}

func newFakeImages() *fakeImages {
	return &fakeImages{
		nextID: 100,
		meta:   make(map[domain.ImageID]domain.ImageMeta),
		fail:   make(map[string]error),
	}
}

// returnOnStore makes the next StoreImages answer ids regardless of the uploads.
func (f *fakeImages) returnOnStore(ids ...domain.ImageID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store = ids
}

func (f *fakeImages) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeImages) err(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[op]
}

func (f *fakeImages) StoreImages(ctx context.Context, token string, files []application.Upload, currentCount int) ([]domain.ImageID, error) {
	f.record("store", token, int64(currentCount))
	if err := f.err("store"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.store
	if ids == nil {
		for range files {
			f.nextID++
			ids = append(ids, f.nextID)
		}
	}
	f.store = nil
	for _, id := range ids {
		f.meta[id] = domain.ImageMeta{ID: id, Bucket: "images", Name: id.String() + ".jpg"}
	}
	return ids, nil
}

func (f *fakeImages) ImageMetadata(ctx context.Context, token string, ids []domain.ImageID) ([]domain.ImageMeta, error) {
	f.record("metadata", token, imageInts(ids)...)
	if err := f.err("metadata"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ImageMeta, 0, len(ids))
	for _, id := range ids {
		if m, ok := f.meta[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeImages) MoveToTrash(ctx context.Context, token string, ids []domain.ImageID) error {
	f.record("trash", token, imageInts(ids)...)
	return f.err("trash")
}

func (f *fakeImages) RestoreFromTrash(ctx context.Context, token string, ids []domain.ImageID) error {
	f.record("restore", token, imageInts(ids)...)
	return f.err("restore")
}

func (f *fakeImages) DeletePermanently(ctx context.Context, token string, ids []domain.ImageID) error {
	f.record("delete_permanently", token, imageInts(ids)...)
	return f.err("delete_permanently")
}

func (f *fakeImages) DeleteOne(ctx context.Context, token string, id domain.ImageID) error {
	f.record("delete_one", token, int64(id))
	return f.err("delete_one")
}

type fakeComments struct {
	recorder
	fail error
}

func (f *fakeComments) DeleteAllForCard(ctx context.Context, token string, card domain.CardID) error {
	f.record("delete_all", token, int64(card))
	return f.fail
}

// countingCache wraps the memory cache and counts writes.
type countingCache struct {
	*memory.Cache
	mu   sync.Mutex
	sets int
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.Cache.Set(ctx, key, value, ttl)
}

func (c *countingCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

const (
	ownerToken = "owner-token"
	otherToken = "other-token"
	adminToken = "admin-token"
	apiKey     = "test-api-key"
)

var (
	owner = domain.User{ID: 42, Name: "alice", Roles: []string{"ROLE_USER"}}
	other = domain.User{ID: 43, Name: "bob", Roles: []string{"ROLE_USER"}}
	admin = domain.User{ID: 1, Name: "root", Roles: []string{"ROLE_USER", domain.RoleAdmin}}

	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// harness wires both services to in-memory infrastructure and recording fakes.
type harness struct {
	ds         *memory.DataStore
	identity   *fakeIdentity
	images     *fakeImages
	comments   *fakeComments
	cache      *countingCache
	sagaLog    *saga.MemoryLog
	dispatcher *saga.Dispatcher
	cards      *application.CardService
	complaints *application.ComplaintService
	deps       application.Collaborators
	opts       application.Options
}

func newHarness() *harness {
	h := &harness{
		ds:         memory.NewDataStore(),
		identity:   newFakeIdentity(),
		images:     newFakeImages(),
		comments:   &fakeComments{},
		cache:      &countingCache{Cache: memory.NewCache(time.Now)},
		sagaLog:    saga.NewMemoryLog(nil),
		dispatcher: saga.NewDispatcher(5 * time.Second),
	}
	h.identity.addUser(ownerToken, owner)
	h.identity.addUser(otherToken, other)
	h.identity.addUser(adminToken, admin)

	deps := application.Collaborators{
		Identity: h.identity,
		Images:   h.images,
		Comments: h.comments,
		Cache:    h.cache,
		Index:    memory.NewIndexPublisher(h.ds.SearchIndex()),
	}
	opts := application.Options{
		MaxImages:         5,
		CacheTTL:          time.Minute,
		EnrichConcurrency: 4,
		APIKey:            apiKey,
		Now:               func() time.Time { return fixedNow },
	}
	h.deps, h.opts = deps, opts
	h.cards = application.NewCardService(h.ds, deps, saga.NewCoordinator(h.sagaLog, h.dispatcher), opts)
	h.complaints = application.NewComplaintService(h.ds, deps, opts)
	return h
}

// rewire rebuilds the card service over store and log, keeping the fakes.
func (h *harness) rewire(store application.DataStore, log saga.IntentLog) {
	h.cards = application.NewCardService(store, h.deps, saga.NewCoordinator(log, h.dispatcher), h.opts)
}

// lostCommitLog never records a committed status, as if the database went
// away right after the last step.
type lostCommitLog struct {
	*saga.MemoryLog
}

func (l lostCommitLog) SetStatus(ctx context.Context, id types.SagaID, status saga.Status) error {
	if status == saga.StatusCommitted {
		return errUnavailable
	}
	return l.MemoryLog.SetStatus(ctx, id, status)
}

// brokenAtomic fails every transaction started through Atomic.
type brokenAtomic struct {
	*memory.DataStore
}

func (brokenAtomic) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	return errUnavailable
}

// seedCard stores a card directly, bypassing the saga.
func (h *harness) seedCard(title string, ownerID types.UserID, images ...domain.ImageID) *domain.Card {
	card, err := domain.NewCard(title, title+" text", fixedNow)
	if err != nil {
		panic(err)
	}
	card.AssignOwner(ownerID)
	if err := card.AttachImages(images, 5); err != nil {
		panic(err)
	}
	if err := h.ds.Cards().Save(context.Background(), card); err != nil {
		panic(err)
	}
	for _, id := range images {
		h.images.meta[id] = domain.ImageMeta{ID: id, Bucket: "images", Name: id.String() + ".jpg"}
	}
	_ = h.ds.SearchIndex().Upsert(context.Background(), domain.NewCardDocument(card))
	return card
}

func uploads(n int) []application.Upload {
	out := make([]application.Upload, n)
	for i := range out {
		out[i] = application.Upload{Name: "photo.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	}
	return out
}
