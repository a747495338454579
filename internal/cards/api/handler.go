package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
	"classifieds/internal/common/logging"
)

// maxUploadBytes caps a multipart card upload.
const maxUploadBytes = 32 << 20

// Handler handles HTTP requests for the cards context.
type Handler struct {
	cards      *application.CardService
	complaints *application.ComplaintService
}

// NewHandler creates a new Handler.
func NewHandler(cards *application.CardService, complaints *application.ComplaintService) *Handler {
	return &Handler{cards: cards, complaints: complaints}
}

// RegisterRoutes registers the cards and complaints routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /cards", h.ListCards)
	mux.HandleFunc("GET /cards/search", h.SearchCards)
	mux.HandleFunc("GET /cards/users/{userId}", h.ListUserCards)
	mux.HandleFunc("GET /cards/{id}", h.GetCard)
	mux.HandleFunc("POST /cards", h.AddCard)
	mux.HandleFunc("PATCH /cards/{id}", h.PatchCard)
	mux.HandleFunc("DELETE /cards/{id}", h.DeleteCard)
	mux.HandleFunc("DELETE /cards/{cardId}/images/{imageId}", h.DeleteCardImage)
	mux.HandleFunc("GET /auth/check", h.CheckToken)

	mux.HandleFunc("POST /complaints", h.CreateComplaint)
	mux.HandleFunc("GET /complaints", h.ListComplaints)
	mux.HandleFunc("DELETE /complaints/users/{userId}", h.DeleteUserComplaints)
	mux.HandleFunc("DELETE /complaints/{id}", h.DeleteComplaint)
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// IDResponse is the JSON response for created resources.
type IDResponse struct {
	ID int64 `json:"id"`
}

// bearerToken returns the credential of the Authorization header without its scheme.
func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}

func apiKey(r *http.Request) string {
	return r.Header.Get("x-api-key")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// handleServiceError maps classified errors to responses. Only the
// sentinel's message is exposed; causes stay in the logs.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrInvalidID) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		logging.ErrorContext(r.Context(), "Internal error", "error_type", fmt.Sprintf("%T", err), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch de.Kind() {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindValidation, domain.KindPermissionDenied, domain.KindTokenInvalid:
		status = http.StatusBadRequest
	default:
		logging.ErrorContext(r.Context(), "Request failed", "kind", de.Kind().String(), "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: de.Error(), Kind: de.Kind().String()})
}
