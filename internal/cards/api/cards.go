package api

import (
	"net/http"
	"strconv"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
	"classifieds/internal/common/types"
)

// CheckToken handles GET /auth/check.
func (h *Handler) CheckToken(w http.ResponseWriter, r *http.Request) {
	if err := h.cards.CheckToken(r.Context(), bearerToken(r)); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// GetCard handles GET /cards/{id}.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCardID(r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	view, err := h.cards.GetCard(r.Context(), bearerToken(r), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// ListCards handles GET /cards.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.cards.ListCards(r.Context(), bearerToken(r), page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SearchCards handles GET /cards/search.
func (h *Handler) SearchCards(w http.ResponseWriter, r *http.Request) {
	q, page, err := parseSearch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.cards.Search(r.Context(), bearerToken(r), q, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListUserCards handles GET /cards/users/{userId}.
func (h *Handler) ListUserCards(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	cards, err := h.cards.ListUserCards(r.Context(), bearerToken(r), apiKey(r), types.UserID(userID))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cards)
}

// AddCard handles POST /cards.
func (h *Handler) AddCard(w http.ResponseWriter, r *http.Request) {
	form, err := parseCardForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := application.AddCardRequest{Token: bearerToken(r), Files: form.Files}
	if form.Title != nil {
		req.Title = *form.Title
	}
	if form.Text != nil {
		req.Text = *form.Text
	}

	id, err := h.cards.AddCard(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, IDResponse{ID: int64(id)})
}

// PatchCard handles PATCH /cards/{id}.
func (h *Handler) PatchCard(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCardID(r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	form, err := parseCardForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.cards.PatchCard(r.Context(), application.PatchCardRequest{
		Token: bearerToken(r),
		ID:    id,
		Title: form.Title,
		Text:  form.Text,
		Files: form.Files,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IDResponse{ID: int64(id)})
}

// DeleteCard handles DELETE /cards/{id}.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCardID(r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.cards.DeleteCard(r.Context(), bearerToken(r), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteCardImage handles DELETE /cards/{cardId}/images/{imageId}.
func (h *Handler) DeleteCardImage(w http.ResponseWriter, r *http.Request) {
	cardID, err := domain.ParseCardID(r.PathValue("cardId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	imageID, err := domain.ParseImageID(r.PathValue("imageId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.cards.DeleteCardImage(r.Context(), bearerToken(r), cardID, imageID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
