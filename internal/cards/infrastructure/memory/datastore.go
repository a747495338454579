package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/types"
)

// DataStore implements domain.AtomicExecutor and domain.Repositories for testing
// and for running the service without Postgres.
// Concurrency: all access is guarded by a mutex.
type DataStore struct {
	mu    sync.RWMutex
	state *state

	cardRepo      *CardRepository
	complaintRepo *ComplaintRepository
	searchIndex   *SearchIndex
}

// state is everything a transaction may stage. Cards are stored as private
// copies so callers never alias stored values.
type state struct {
	cards         map[domain.CardID]*domain.Card
	complaints    map[domain.ComplaintID]*domain.Complaint
	documents     map[domain.CardID]domain.CardDocument
	removed       map[domain.CardID]bool
	nextCard      domain.CardID
	nextComplaint domain.ComplaintID
}

func (s *state) clone() *state {
	return &state{
		cards:         maps.Clone(s.cards),
		complaints:    maps.Clone(s.complaints),
		documents:     maps.Clone(s.documents),
		removed:       maps.Clone(s.removed),
		nextCard:      s.nextCard,
		nextComplaint: s.nextComplaint,
	}
}

// NewDataStore creates a new in-memory DataStore.
func NewDataStore() *DataStore {
	ds := &DataStore{
		state: &state{
			cards:      make(map[domain.CardID]*domain.Card),
			complaints: make(map[domain.ComplaintID]*domain.Complaint),
			documents:  make(map[domain.CardID]domain.CardDocument),
			removed:    make(map[domain.CardID]bool),
		},
	}

	ds.cardRepo = &CardRepository{store: ds}
	ds.complaintRepo = &ComplaintRepository{store: ds}
	ds.searchIndex = &SearchIndex{store: ds}

	return ds
}

// Cards returns the card repository.
func (ds *DataStore) Cards() domain.CardRepository {
	return ds.cardRepo
}

// Complaints returns the complaint repository.
func (ds *DataStore) Complaints() domain.ComplaintRepository {
	return ds.complaintRepo
}

// SearchIndex returns the search index.
func (ds *DataStore) SearchIndex() domain.SearchIndex {
	return ds.searchIndex
}

// Atomic executes the callback atomically.
// The callback works on a snapshot of the store that replaces the live state
// only if the callback succeeds.
// Concurrency: the store is locked for the duration of the callback.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	tx := &txRepositories{state: ds.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	*ds.state = *tx.state
	return nil
}

// txRepositories exposes a staged snapshot. The store lock is already held.
type txRepositories struct {
	state *state
}

func (tx *txRepositories) Cards() domain.CardRepository {
	return &txCardRepository{state: tx.state}
}

func (tx *txRepositories) Complaints() domain.ComplaintRepository {
	return &txComplaintRepository{state: tx.state}
}

func (tx *txRepositories) SearchIndex() domain.SearchIndex {
	return &txSearchIndex{state: tx.state}
}

// Non-transactional repository implementations (for direct access)

// CardRepository provides non-transactional access to in-memory cards.
type CardRepository struct {
	store *DataStore
}

func (r *CardRepository) write(fn func(*txCardRepository) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(&txCardRepository{state: r.store.state})
}

func (r *CardRepository) read() (*txCardRepository, func()) {
	r.store.mu.RLock()
	return &txCardRepository{state: r.store.state}, r.store.mu.RUnlock
}

// Save inserts or updates a card.
func (r *CardRepository) Save(ctx context.Context, card *domain.Card) error {
	return r.write(func(tx *txCardRepository) error { return tx.Save(ctx, card) })
}

// FindByID loads a card. Returns ErrCardNotFound when missing.
func (r *CardRepository) FindByID(ctx context.Context, id domain.CardID) (*domain.Card, error) {
	tx, unlock := r.read()
	defer unlock()
	return tx.FindByID(ctx, id)
}

// FindByIDs loads the cards that exist among ids, in the order of ids.
func (r *CardRepository) FindByIDs(ctx context.Context, ids []domain.CardID) ([]*domain.Card, error) {
	tx, unlock := r.read()
	defer unlock()
	return tx.FindByIDs(ctx, ids)
}

// Exists reports whether a card is stored.
func (r *CardRepository) Exists(ctx context.Context, id domain.CardID) (bool, error) {
	tx, unlock := r.read()
	defer unlock()
	return tx.Exists(ctx, id)
}

// DeleteByID removes a card if present.
func (r *CardRepository) DeleteByID(ctx context.Context, id domain.CardID) error {
	return r.write(func(tx *txCardRepository) error { return tx.DeleteByID(ctx, id) })
}

// FindPage returns cards ordered by id.
func (r *CardRepository) FindPage(ctx context.Context, req domain.PageRequest) ([]*domain.Card, int64, error) {
	tx, unlock := r.read()
	defer unlock()
	return tx.FindPage(ctx, req)
}

// FindAllByOwner returns the owner's cards ordered by id.
func (r *CardRepository) FindAllByOwner(ctx context.Context, owner types.UserID) ([]*domain.Card, error) {
	tx, unlock := r.read()
	defer unlock()
	return tx.FindAllByOwner(ctx, owner)
}

// ComplaintRepository provides non-transactional access to in-memory complaints.
type ComplaintRepository struct {
	store *DataStore
}

func (r *ComplaintRepository) write(fn func(*txComplaintRepository) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(&txComplaintRepository{state: r.store.state})
}

func (r *ComplaintRepository) read() (*txComplaintRepository, func()) {
	r.store.mu.RLock()
	return &txComplaintRepository{state: r.store.state}, r.store.mu.RUnlock
}

// Save inserts a complaint and assigns its id.
func (r *ComplaintRepository) Save(ctx context.Context, c *domain.Complaint) error {
	return r.write(func(tx *txComplaintRepository) error { return tx.Save(ctx, c) })
}

// FindByID loads a complaint. Returns ErrComplaintNotFound when missing.
func (r *ComplaintRepository) FindByID(ctx context.Context, id domain.ComplaintID) (*domain.Complaint, error) {
	tx, unlock := r.read()
	defer unlock()
	return tx.FindByID(ctx, id)
}

// FindPage returns complaints of kind ("" for all) ordered by id.
func (r *ComplaintRepository) FindPage(ctx context.Context, kind domain.ComplaintType, req domain.PageRequest) ([]*domain.Complaint, int64, error) {
	tx, unlock := r.read()
	defer unlock()
	return tx.FindPage(ctx, kind, req)
}

// DeleteByID removes one complaint.
func (r *ComplaintRepository) DeleteByID(ctx context.Context, id domain.ComplaintID) error {
	return r.write(func(tx *txComplaintRepository) error { return tx.DeleteByID(ctx, id) })
}

// DeleteByTarget removes every complaint of kind about targetID.
func (r *ComplaintRepository) DeleteByTarget(ctx context.Context, kind domain.ComplaintType, targetID int64) (int64, error) {
	var n int64
	err := r.write(func(tx *txComplaintRepository) error {
		var err error
		n, err = tx.DeleteByTarget(ctx, kind, targetID)
		return err
	})
	return n, err
}

// DeleteByAuthor removes every complaint written by author.
func (r *ComplaintRepository) DeleteByAuthor(ctx context.Context, author types.UserID) (int64, error) {
	var n int64
	err := r.write(func(tx *txComplaintRepository) error {
		var err error
		n, err = tx.DeleteByAuthor(ctx, author)
		return err
	})
	return n, err
}

// SearchIndex provides non-transactional access to the in-memory card index.
type SearchIndex struct {
	store *DataStore
}

// Upsert adds or replaces a document unless the card was removed.
func (i *SearchIndex) Upsert(ctx context.Context, doc domain.CardDocument) error {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()
	return (&txSearchIndex{state: i.store.state}).Upsert(ctx, doc)
}

// Remove drops a document if present.
func (i *SearchIndex) Remove(ctx context.Context, id domain.CardID) error {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()
	return (&txSearchIndex{state: i.store.state}).Remove(ctx, id)
}

// Search matches query terms against titles and texts.
func (i *SearchIndex) Search(ctx context.Context, q domain.SearchQuery, req domain.PageRequest) ([]domain.CardID, int64, error) {
	i.store.mu.RLock()
	defer i.store.mu.RUnlock()
	return (&txSearchIndex{state: i.store.state}).Search(ctx, q, req)
}

// Repository implementations over a state snapshot

type txCardRepository struct {
	state *state
}

func copyCard(c *domain.Card) *domain.Card {
	return domain.ReconstructCard(c.ID(), c.Title(), c.Text(), c.CreatedAt(), c.OwnerID(), c.ImageIDs())
}

func (r *txCardRepository) Save(ctx context.Context, card *domain.Card) error {
	if !card.IsPersisted() {
		r.state.nextCard++
		card.AssignID(r.state.nextCard)
	}
	r.state.cards[card.ID()] = copyCard(card)
	return nil
}

func (r *txCardRepository) FindByID(ctx context.Context, id domain.CardID) (*domain.Card, error) {
	if c, ok := r.state.cards[id]; ok {
		return copyCard(c), nil
	}
	return nil, domain.ErrCardNotFound
}

func (r *txCardRepository) FindByIDs(ctx context.Context, ids []domain.CardID) ([]*domain.Card, error) {
	out := make([]*domain.Card, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.state.cards[id]; ok {
			out = append(out, copyCard(c))
		}
	}
	return out, nil
}

func (r *txCardRepository) Exists(ctx context.Context, id domain.CardID) (bool, error) {
	_, ok := r.state.cards[id]
	return ok, nil
}

func (r *txCardRepository) DeleteByID(ctx context.Context, id domain.CardID) error {
	delete(r.state.cards, id)
	return nil
}

func (r *txCardRepository) FindPage(ctx context.Context, req domain.PageRequest) ([]*domain.Card, int64, error) {
	ids := slices.Sorted(maps.Keys(r.state.cards))
	page := pageOf(ids, req)
	out := make([]*domain.Card, len(page))
	for i, id := range page {
		out[i] = copyCard(r.state.cards[id])
	}
	return out, int64(len(ids)), nil
}

func (r *txCardRepository) FindAllByOwner(ctx context.Context, owner types.UserID) ([]*domain.Card, error) {
	var out []*domain.Card
	for _, id := range slices.Sorted(maps.Keys(r.state.cards)) {
		if c := r.state.cards[id]; c.OwnedBy(owner) {
			out = append(out, copyCard(c))
		}
	}
	return out, nil
}

type txComplaintRepository struct {
	state *state
}

func (r *txComplaintRepository) Save(ctx context.Context, c *domain.Complaint) error {
	if c.ID() == 0 {
		r.state.nextComplaint++
		c.AssignID(r.state.nextComplaint)
	}
	cp := *c
	r.state.complaints[c.ID()] = &cp
	return nil
}

func (r *txComplaintRepository) FindByID(ctx context.Context, id domain.ComplaintID) (*domain.Complaint, error) {
	if c, ok := r.state.complaints[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, domain.ErrComplaintNotFound
}

func (r *txComplaintRepository) FindPage(ctx context.Context, kind domain.ComplaintType, req domain.PageRequest) ([]*domain.Complaint, int64, error) {
	var ids []domain.ComplaintID
	for _, id := range slices.Sorted(maps.Keys(r.state.complaints)) {
		if kind == "" || r.state.complaints[id].Type() == kind {
			ids = append(ids, id)
		}
	}
	page := pageOf(ids, req)
	out := make([]*domain.Complaint, len(page))
	for i, id := range page {
		cp := *r.state.complaints[id]
		out[i] = &cp
	}
	return out, int64(len(ids)), nil
}

func (r *txComplaintRepository) DeleteByID(ctx context.Context, id domain.ComplaintID) error {
	delete(r.state.complaints, id)
	return nil
}

func (r *txComplaintRepository) DeleteByTarget(ctx context.Context, kind domain.ComplaintType, targetID int64) (int64, error) {
	return r.deleteWhere(func(c *domain.Complaint) bool {
		return c.Type() == kind && c.TargetID() == targetID
	}), nil
}

func (r *txComplaintRepository) DeleteByAuthor(ctx context.Context, author types.UserID) (int64, error) {
	return r.deleteWhere(func(c *domain.Complaint) bool {
		return c.AuthorID() == author
	}), nil
}

func (r *txComplaintRepository) deleteWhere(match func(*domain.Complaint) bool) int64 {
	var n int64
	for id, c := range r.state.complaints {
		if match(c) {
			delete(r.state.complaints, id)
			n++
		}
	}
	return n
}

type txSearchIndex struct {
	state *state
}

// Upsert ignores documents of removed cards, so a late save event cannot
// bring a deleted card back.
func (i *txSearchIndex) Upsert(ctx context.Context, doc domain.CardDocument) error {
	if i.state.removed[doc.ID] {
		return nil
	}
	i.state.documents[doc.ID] = doc
	return nil
}

func (i *txSearchIndex) Remove(ctx context.Context, id domain.CardID) error {
	delete(i.state.documents, id)
	i.state.removed[id] = true
	return nil
}

// Search ranks a title hit twice as high as a text hit; ties go to the lower id.
func (i *txSearchIndex) Search(ctx context.Context, q domain.SearchQuery, req domain.PageRequest) ([]domain.CardID, int64, error) {
	terms := strings.Fields(strings.ToLower(q.Text))

	type hit struct {
		id   domain.CardID
		rank int
	}
	var hits []hit
	for _, doc := range i.state.documents {
		if q.Since != nil && doc.CreatedOn.Before(*q.Since) {
			continue
		}
		title, text := strings.ToLower(doc.Title), strings.ToLower(doc.Text)
		rank := 0
		for _, term := range terms {
			if strings.Contains(title, term) {
				rank += 2
			}
			if strings.Contains(text, term) {
				rank++
			}
		}
		if rank > 0 || len(terms) == 0 {
			hits = append(hits, hit{id: doc.ID, rank: rank})
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].rank != hits[b].rank {
			return hits[a].rank > hits[b].rank
		}
		return hits[a].id < hits[b].id
	})

	ids := make([]domain.CardID, len(hits))
	for n, h := range hits {
		ids[n] = h.id
	}
	return pageOf(ids, req), int64(len(ids)), nil
}

func pageOf[T any](all []T, req domain.PageRequest) []T {
	start := min(req.Offset(), len(all))
	end := min(start+req.Limit, len(all))
	return all[start:end]
}

// Verify interface implementations
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
)
