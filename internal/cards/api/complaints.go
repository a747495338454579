package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
	"classifieds/internal/common/types"
)

// DeletedResponse reports how many rows a bulk delete removed.
type DeletedResponse struct {
	Deleted int64 `json:"deleted"`
}

// CreateComplaint handles POST /complaints.
func (h *Handler) CreateComplaint(w http.ResponseWriter, r *http.Request) {
	var req CreateComplaintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.complaints.CreateComplaint(r.Context(), application.CreateComplaintRequest{
		Token:    bearerToken(r),
		Type:     req.Type,
		TargetID: req.TargetID,
		Reason:   req.Reason,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, IDResponse{ID: int64(id)})
}

// ListComplaints handles GET /complaints.
func (h *Handler) ListComplaints(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.complaints.ListComplaints(r.Context(), bearerToken(r), domain.ComplaintFilter(r.URL.Query().Get("type")), page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteComplaint handles DELETE /complaints/{id}.
func (h *Handler) DeleteComplaint(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseComplaintID(r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.complaints.DeleteComplaint(r.Context(), bearerToken(r), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteUserComplaints handles DELETE /complaints/users/{userId}.
func (h *Handler) DeleteUserComplaints(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	n, err := h.complaints.DeleteUserComplaints(r.Context(), apiKey(r), types.UserID(userID))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DeletedResponse{Deleted: n})
}
