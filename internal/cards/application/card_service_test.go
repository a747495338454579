package application_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
	"classifieds/internal/common/saga"
	"classifieds/internal/common/types"
)

func TestCardService_AddCard(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the card and links it to the owner", func(t *testing.T) {
		h := newHarness()
		h.images.returnOnStore(101, 102)

		id, err := h.cards.AddCard(ctx, application.AddCardRequest{
			Token: ownerToken,
			Title: "Bike",
			Text:  "Good condition",
			Files: uploads(2),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		card, err := h.ds.Cards().FindByID(ctx, id)
		if err != nil {
			t.Fatalf("card not persisted: %v", err)
		}
		if card.Title() != "Bike" {
			t.Errorf("expected title Bike, got %s", card.Title())
		}
		if card.OwnerID() != types.UserID(42) {
			t.Errorf("expected owner 42, got %d", card.OwnerID())
		}
		if !slices.Equal(card.ImageIDs(), []domain.ImageID{101, 102}) {
			t.Errorf("expected images [101 102], got %v", card.ImageIDs())
		}

		link, ok := h.identity.last("link")
		if !ok {
			t.Fatal("expected the card to be linked")
		}
		if link.Token != ownerToken || !slices.Equal(link.IDs, []int64{int64(id)}) {
			t.Errorf("unexpected link call %+v", link)
		}

		store, _ := h.images.last("store")
		if !slices.Equal(store.IDs, []int64{0}) {
			t.Errorf("expected a new card to report 0 current images, got %v", store.IDs)
		}

		intents := h.sagaLog.ByName("create_card")
		if len(intents) != 1 || intents[0].Status != saga.StatusCommitted {
			t.Errorf("expected one committed intent, got %+v", intents)
		}

		ids, _, _ := h.ds.SearchIndex().Search(ctx, domain.SearchQuery{Text: "bike"}, domain.PageRequest{Limit: 10})
		if !slices.Equal(ids, []domain.CardID{id}) {
			t.Errorf("expected the card to be indexed, got %v", ids)
		}
	})

	t.Run("too many files fail before any remote call", func(t *testing.T) {
		h := newHarness()

		_, err := h.cards.AddCard(ctx, application.AddCardRequest{
			Token: ownerToken,
			Title: "Bike",
			Text:  "Good condition",
			Files: uploads(6),
		})
		if !errors.Is(err, domain.ErrImageLimitExceeded) {
			t.Fatalf("expected ErrImageLimitExceeded, got %v", err)
		}
		if domain.KindOf(err) != domain.KindValidation {
			t.Errorf("expected validation kind, got %s", domain.KindOf(err))
		}
		if n := len(h.identity.ops()) + len(h.images.ops()); n != 0 {
			t.Errorf("expected no remote calls, got %d", n)
		}
	})

	t.Run("exactly the image limit is accepted", func(t *testing.T) {
		h := newHarness()

		id, err := h.cards.AddCard(ctx, application.AddCardRequest{
			Token: ownerToken,
			Title: "Bike",
			Text:  "Good condition",
			Files: uploads(5),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		card, _ := h.ds.Cards().FindByID(ctx, id)
		if card.ImageCount() != 5 {
			t.Errorf("expected 5 images, got %d", card.ImageCount())
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		h := newHarness()

		_, err := h.cards.AddCard(ctx, application.AddCardRequest{Token: "nope", Title: "Bike", Text: "x"})
		if !errors.Is(err, domain.ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
		if len(h.sagaLog.ByName("create_card")) != 0 {
			t.Error("expected no saga to start")
		}
	})

	t.Run("blank title is rejected", func(t *testing.T) {
		h := newHarness()

		_, err := h.cards.AddCard(ctx, application.AddCardRequest{Token: ownerToken, Title: "  ", Text: "x"})
		if !errors.Is(err, domain.ErrCardNotSaved) {
			t.Fatalf("expected ErrCardNotSaved, got %v", err)
		}
	})

	t.Run("link failure deletes the stored images and the row", func(t *testing.T) {
		h := newHarness()
		h.images.returnOnStore(101, 102)
		h.identity.failOn("link", errUnavailable)

		id, err := h.cards.AddCard(ctx, application.AddCardRequest{
			Token: ownerToken,
			Title: "Bike",
			Text:  "Good condition",
			Files: uploads(2),
		})
		if !errors.Is(err, domain.ErrCardNotLinked) || !errors.Is(err, domain.ErrCardNotSaved) {
			t.Fatalf("expected ErrCardNotLinked, got %v", err)
		}
		if id != 0 {
			t.Errorf("expected no id, got %d", id)
		}

		h.dispatcher.Wait()

		del, ok := h.images.last("delete_permanently")
		if !ok || !slices.Equal(del.IDs, []int64{101, 102}) {
			t.Errorf("expected images 101,102 to be deleted, got %+v", del)
		}
		exists, _ := h.ds.Cards().Exists(ctx, 1)
		if exists {
			t.Error("expected the orphan card row to be deleted")
		}
		intents := h.sagaLog.ByName("create_card")
		if len(intents) != 1 || intents[0].Status != saga.StatusCompensated {
			t.Errorf("expected a compensated intent, got %+v", intents)
		}
	})

	t.Run("image service storing nothing", func(t *testing.T) {
		h := newHarness()
		h.images.store = []domain.ImageID{}

		_, err := h.cards.AddCard(ctx, application.AddCardRequest{
			Token: ownerToken,
			Title: "Bike",
			Text:  "Good condition",
			Files: uploads(1),
		})
		if !errors.Is(err, domain.ErrImageNotSaved) {
			t.Fatalf("expected ErrImageNotSaved, got %v", err)
		}

		h.dispatcher.Wait()
		if h.images.count("delete_permanently") != 0 {
			t.Error("expected no image compensation when nothing was stored")
		}
		if exists, _ := h.ds.Cards().Exists(ctx, 1); exists {
			t.Error("expected the card row to be compensated")
		}
	})
}

func TestCardService_DeleteCard(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the card everywhere", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101, 102)
		complaint, _ := domain.NewComplaint(domain.ComplaintCard, int64(card.ID()), "spam", other.ID, fixedNow)
		_ = h.ds.Complaints().Save(ctx, complaint)

		if _, err := h.cards.GetCard(ctx, ownerToken, card.ID()); err != nil {
			t.Fatalf("warming the cache: %v", err)
		}

		if err := h.cards.DeleteCard(ctx, ownerToken, card.ID()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		want := []string{"unlink", "trash", "delete_permanently"}
		got := append(slices.DeleteFunc(h.identity.ops(), func(op string) bool { return op != "unlink" }),
			slices.DeleteFunc(h.images.ops(), func(op string) bool { return op != "trash" && op != "delete_permanently" })...)
		if !slices.Equal(got, want) {
			t.Errorf("expected calls %v, got %v", want, got)
		}
		if h.comments.count("delete_all") != 1 {
			t.Error("expected comments to be deleted")
		}
		if exists, _ := h.ds.Cards().Exists(ctx, card.ID()); exists {
			t.Error("expected the card row to be deleted")
		}
		if _, err := h.ds.Complaints().FindByID(ctx, complaint.ID()); !errors.Is(err, domain.ErrComplaintNotFound) {
			t.Error("expected complaints about the card to be deleted")
		}
		if h.cache.Has("card" + card.ID().String()) {
			t.Error("expected the cached view to be invalidated")
		}
		if _, total, _ := h.ds.SearchIndex().Search(ctx, domain.SearchQuery{Text: "bike"}, domain.PageRequest{Limit: 10}); total != 0 {
			t.Error("expected the card to leave the search index")
		}

		h.dispatcher.Wait()
		if h.images.count("restore") != 0 || h.identity.count("link") != 0 {
			t.Error("expected no compensation after a successful delete")
		}
	})

	t.Run("comment failure restores images then relinks", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101, 102)
		h.comments.fail = errUnavailable

		err := h.cards.DeleteCard(ctx, ownerToken, card.ID())
		if !errors.Is(err, domain.ErrCommentsNotDeleted) {
			t.Fatalf("expected ErrCommentsNotDeleted, got %v", err)
		}

		h.dispatcher.Wait()

		if n := h.images.count("restore"); n != 1 {
			t.Errorf("expected images restored once, got %d", n)
		}
		if n := h.identity.count("link"); n != 1 {
			t.Errorf("expected owner relinked once, got %d", n)
		}
		restore, _ := h.images.last("restore")
		if !slices.Equal(restore.IDs, []int64{101, 102}) {
			t.Errorf("expected images 101,102 restored, got %v", restore.IDs)
		}
		if h.images.count("delete_permanently") != 0 {
			t.Error("expected images to stay in the trash bucket")
		}
		if exists, _ := h.ds.Cards().Exists(ctx, card.ID()); !exists {
			t.Error("expected the card row to survive")
		}

		in := h.sagaLog.ByName("delete_card")[0]
		var order []string
		for _, s := range in.Steps {
			if s.Kind == saga.KindCompensation {
				order = append(order, s.Name+":"+string(s.Status))
			}
		}
		if !slices.Equal(order, []string{"relink_owner:done", "restore_images:done"}) {
			t.Errorf("unexpected compensation log %v", order)
		}
		if in.Status != saga.StatusCompensated {
			t.Errorf("expected compensated, got %s", in.Status)
		}
	})

	t.Run("unlink failure compensates nothing", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101)
		h.identity.failOn("unlink", errUnavailable)

		err := h.cards.DeleteCard(ctx, ownerToken, card.ID())
		if !errors.Is(err, domain.ErrCardUnlinkFailed) {
			t.Fatalf("expected ErrCardUnlinkFailed, got %v", err)
		}

		h.dispatcher.Wait()
		if h.identity.count("link") != 0 || h.images.count("trash") != 0 {
			t.Error("expected no further calls")
		}
		if in := h.sagaLog.ByName("delete_card")[0]; in.Status != saga.StatusAborted {
			t.Errorf("expected aborted, got %s", in.Status)
		}
	})

	t.Run("failed compensation is not returned to the caller", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101)
		h.comments.fail = errUnavailable
		h.images.failOn("restore", errUnavailable)

		err := h.cards.DeleteCard(ctx, ownerToken, card.ID())
		if !errors.Is(err, domain.ErrCommentsNotDeleted) {
			t.Fatalf("expected ErrCommentsNotDeleted, got %v", err)
		}

		h.dispatcher.Wait()
		if h.identity.count("link") != 1 {
			t.Error("expected the relink to run after the failed restore")
		}
		if in := h.sagaLog.ByName("delete_card")[0]; in.Status != saga.StatusCompensationFailed {
			t.Errorf("expected compensation_failed, got %s", in.Status)
		}
	})

	t.Run("row delete failure after comments are gone rolls nothing back", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101, 102)
		h.rewire(brokenAtomic{h.ds}, h.sagaLog)

		err := h.cards.DeleteCard(ctx, ownerToken, card.ID())
		if !errors.Is(err, errUnavailable) {
			t.Fatalf("expected the row delete error, got %v", err)
		}

		h.dispatcher.Wait()
		if h.images.count("restore") != 0 || h.identity.count("link") != 0 {
			t.Error("expected no compensation once comments are deleted")
		}
		if h.images.count("delete_permanently") != 1 {
			t.Error("expected the trashed images to be deleted")
		}
		if in := h.sagaLog.ByName("delete_card")[0]; in.Status != saga.StatusCommitted {
			t.Errorf("expected committed, got %s", in.Status)
		}
		if _, total, _ := h.ds.SearchIndex().Search(ctx, domain.SearchQuery{Text: "bike"}, domain.PageRequest{Limit: 10}); total != 1 {
			t.Error("expected no delete event while the row survives")
		}
	})

	t.Run("only the owner or an admin may delete", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID)

		if err := h.cards.DeleteCard(ctx, otherToken, card.ID()); !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
		if h.identity.count("unlink") != 0 {
			t.Error("expected no saga step for a denied caller")
		}
		if err := h.cards.DeleteCard(ctx, adminToken, card.ID()); err != nil {
			t.Fatalf("expected admin delete to succeed, got %v", err)
		}
	})

	t.Run("unknown card", func(t *testing.T) {
		h := newHarness()
		if err := h.cards.DeleteCard(ctx, ownerToken, 99); !errors.Is(err, domain.ErrCardNotFound) {
			t.Fatalf("expected ErrCardNotFound, got %v", err)
		}
	})
}

func TestCardService_GetCard(t *testing.T) {
	ctx := context.Background()

	t.Run("enriches and caches the view", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101, 102)

		view, err := h.cards.GetCard(ctx, otherToken, card.ID())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if view.AuthorName != "alice" || len(view.Images) != 2 || view.Images[0].Name != "101.jpg" {
			t.Errorf("unexpected view %+v", view)
		}

		if _, err := h.cards.GetCard(ctx, otherToken, card.ID()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n := h.images.count("metadata"); n != 1 {
			t.Errorf("expected the second read to hit the cache, got %d metadata calls", n)
		}
	})

	t.Run("owner lookup failure", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID)
		h.identity.failOn("user_by_id", errUnavailable)

		_, err := h.cards.GetCard(ctx, otherToken, card.ID())
		if !errors.Is(err, domain.ErrRemoteCall) {
			t.Fatalf("expected ErrRemoteCall, got %v", err)
		}
		if h.cache.setCount() != 0 {
			t.Error("expected failures not to be cached")
		}
	})

	t.Run("corrupt cache entry", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID)
		_ = h.cache.Set(ctx, "card"+card.ID().String(), []byte("{not json"), time.Minute)

		_, err := h.cards.GetCard(ctx, otherToken, card.ID())
		if !errors.Is(err, domain.ErrSerialization) {
			t.Fatalf("expected ErrSerialization, got %v", err)
		}
	})
}

func TestCardService_PatchCard(t *testing.T) {
	ctx := context.Background()
	title := "Red bike"

	t.Run("text change invalidates the cached view", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID)
		if _, err := h.cards.GetCard(ctx, ownerToken, card.ID()); err != nil {
			t.Fatalf("warming the cache: %v", err)
		}

		err := h.cards.PatchCard(ctx, application.PatchCardRequest{Token: ownerToken, ID: card.ID(), Title: &title})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		view, err := h.cards.GetCard(ctx, ownerToken, card.ID())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if view.Title != title {
			t.Errorf("expected the patched title, got %s", view.Title)
		}
	})

	t.Run("appends images with the current count", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101, 102)
		h.images.returnOnStore(103)

		err := h.cards.PatchCard(ctx, application.PatchCardRequest{Token: ownerToken, ID: card.ID(), Files: uploads(1)})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		store, _ := h.images.last("store")
		if !slices.Equal(store.IDs, []int64{2}) {
			t.Errorf("expected current count 2, got %v", store.IDs)
		}
		saved, _ := h.ds.Cards().FindByID(ctx, card.ID())
		if !slices.Equal(saved.ImageIDs(), []domain.ImageID{101, 102, 103}) {
			t.Errorf("unexpected images %v", saved.ImageIDs())
		}
	})

	t.Run("image limit is checked before uploading", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 1, 2, 3, 4)

		err := h.cards.PatchCard(ctx, application.PatchCardRequest{Token: ownerToken, ID: card.ID(), Files: uploads(2)})
		if !errors.Is(err, domain.ErrImageLimitExceeded) {
			t.Fatalf("expected ErrImageLimitExceeded, got %v", err)
		}
		if h.images.count("store") != 0 {
			t.Error("expected no upload")
		}
	})

	t.Run("blank title", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID)
		blank := " "

		err := h.cards.PatchCard(ctx, application.PatchCardRequest{Token: ownerToken, ID: card.ID(), Title: &blank})
		if !errors.Is(err, domain.ErrCardNotSaved) {
			t.Fatalf("expected ErrCardNotSaved, got %v", err)
		}
	})

	t.Run("strangers may not patch", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID)

		err := h.cards.PatchCard(ctx, application.PatchCardRequest{Token: otherToken, ID: card.ID(), Title: &title})
		if !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
	})
}

func TestCardService_DeleteCardImage(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the image", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101, 102)

		if err := h.cards.DeleteCardImage(ctx, ownerToken, card.ID(), 101); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		saved, _ := h.ds.Cards().FindByID(ctx, card.ID())
		if !slices.Equal(saved.ImageIDs(), []domain.ImageID{102}) {
			t.Errorf("unexpected images %v", saved.ImageIDs())
		}
	})

	t.Run("invalidates the cached view", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101, 102)
		if _, err := h.cards.GetCard(ctx, ownerToken, card.ID()); err != nil {
			t.Fatalf("warming the cache: %v", err)
		}

		if err := h.cards.DeleteCardImage(ctx, ownerToken, card.ID(), 101); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		view, err := h.cards.GetCard(ctx, ownerToken, card.ID())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(view.Images) != 1 || view.Images[0].ID != 102 {
			t.Errorf("expected only image 102 in the view, got %+v", view.Images)
		}
		if n := h.images.count("metadata"); n != 2 {
			t.Errorf("expected the view to be rebuilt, got %d metadata calls", n)
		}
	})

	t.Run("strangers may not delete images", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101)

		err := h.cards.DeleteCardImage(ctx, otherToken, card.ID(), 101)
		if !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
		if h.images.count("delete_one") != 0 {
			t.Error("expected no remote delete")
		}
		saved, _ := h.ds.Cards().FindByID(ctx, card.ID())
		if !saved.HasImage(101) {
			t.Error("expected the image to stay attached")
		}
	})

	t.Run("image not on the card", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101)

		err := h.cards.DeleteCardImage(ctx, ownerToken, card.ID(), 999)
		if !errors.Is(err, domain.ErrImageNotFound) {
			t.Fatalf("expected ErrImageNotFound, got %v", err)
		}
		if h.images.count("delete_one") != 0 {
			t.Error("expected no remote delete")
		}
	})

	t.Run("remote delete failure keeps the image", func(t *testing.T) {
		h := newHarness()
		card := h.seedCard("Bike", owner.ID, 101)
		h.images.failOn("delete_one", errUnavailable)

		err := h.cards.DeleteCardImage(ctx, ownerToken, card.ID(), 101)
		if !errors.Is(err, domain.ErrImageNotDeleted) {
			t.Fatalf("expected ErrImageNotDeleted, got %v", err)
		}
		saved, _ := h.ds.Cards().FindByID(ctx, card.ID())
		if !saved.HasImage(101) {
			t.Error("expected the image to stay attached")
		}
	})
}

func TestCardService_ListCards(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	for _, title := range []string{"Bike", "Sofa", "Lamp"} {
		h.seedCard(title, owner.ID)
	}

	page, err := h.cards.ListCards(ctx, ownerToken, domain.PageRequest{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(page.Cards) != 1 || page.Cards[0].Title != "Lamp" {
		t.Errorf("unexpected page %+v", page.Cards)
	}
	if !page.Last || page.First || page.TotalPages != 2 || page.TotalElements != 3 {
		t.Errorf("unexpected page info %+v", page.PageInfo)
	}

	if _, err := h.cards.ListCards(ctx, ownerToken, domain.PageRequest{Page: 0, Limit: 0}); !errors.Is(err, domain.ErrInvalidPage) {
		t.Errorf("expected ErrInvalidPage, got %v", err)
	}
}

func TestCardService_Search(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.seedCard("Sofa with bike rack", owner.ID)
	bike := h.seedCard("Bike", owner.ID)

	page, err := h.cards.Search(ctx, ownerToken, domain.SearchQuery{Text: "bike"}, domain.PageRequest{Limit: 10})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(page.Cards) != 2 || page.TotalElements != 2 {
		t.Fatalf("expected two hits, got %+v", page)
	}
	if page.Cards[0].ID != bike.ID() && page.Cards[1].ID != bike.ID() {
		t.Errorf("expected the bike card among the hits, got %+v", page.Cards)
	}
}

func TestCardService_ListUserCards(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.seedCard("Bike", owner.ID)
	h.seedCard("Sofa", other.ID)

	t.Run("requires the api key", func(t *testing.T) {
		_, err := h.cards.ListUserCards(ctx, ownerToken, "wrong", owner.ID)
		if !errors.Is(err, domain.ErrInvalidAPIKey) {
			t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
		}
	})

	t.Run("lists the user's cards", func(t *testing.T) {
		cards, err := h.cards.ListUserCards(ctx, ownerToken, apiKey, owner.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(cards) != 1 || cards[0].Title != "Bike" {
			t.Errorf("unexpected cards %+v", cards)
		}
	})
}

func TestCardService_CheckToken(t *testing.T) {
	h := newHarness()
	h.identity.failOn("validate", errUnavailable)

	err := h.cards.CheckToken(context.Background(), ownerToken)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
