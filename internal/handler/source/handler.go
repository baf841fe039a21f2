package source

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
	"github.com/devhaln/pagepal/backend/internal/service/ingest"
)

// Handler exposes page capture and source management over HTTP.
type Handler struct {
	ingestSvc *ingest.Service
	store     store.Store
}

func New(ingestSvc *ingest.Service, s store.Store) *Handler {
	return &Handler{ingestSvc: ingestSvc, store: s}
}

// RegisterRoutes registers source routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session/{sessionID}/sources", h.handleCapture)
	r.Get("/session/{sessionID}/sources", h.handleList)
	r.Delete("/session/{sessionID}/sources", h.handleRemove)
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var capture ingest.Capture
	if err := json.NewDecoder(r.Body).Decode(&capture); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := h.ingestSvc.Ingest(r.Context(), sessionID, capture)
	if err != nil {
		respondIngestError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, turn)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		respondIngestError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, session.Sources)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	url := r.URL.Query().Get("url")
	if url == "" {
		respondError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	if err := h.store.RemoveSource(r.Context(), sessionID, url); err != nil {
		respondIngestError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func respondIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSourceNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrSourceExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrMissingURL), errors.Is(err, ingest.ErrEmptyContent), errors.Is(err, store.ErrInvalidTurn):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
