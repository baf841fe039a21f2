package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/devhaln/pagepal/backend/internal/service/chat"
	"github.com/devhaln/pagepal/backend/internal/service/completion"
	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
)

// Handler exposes blocking chat rounds and prompt inspection over HTTP.
type Handler struct {
	chatSvc *chatService.Service
}

func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session/{sessionID}/chat", h.handleChat)
	r.Get("/session/{sessionID}/prompt", h.handlePrompt)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.chatSvc.Ask(r.Context(), sessionID, payload.Message)
	if err != nil {
		respondChatError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// handlePrompt returns the request the next chat round would send, for
// debugging what the model actually sees.
func (h *Handler) handlePrompt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	compiled, err := h.chatSvc.Compile(r.Context(), sessionID)
	if err != nil {
		respondChatError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"systemInstruction": compiled.SystemInstruction,
		"contents":          compiled.Contents,
	})
}

// respondChatError maps service and upstream failures onto HTTP statuses.
func respondChatError(w http.ResponseWriter, err error) {
	var failure *completion.Failure
	if errors.As(err, &failure) {
		respondError(w, failureStatus(failure), failure.Message)
		return
	}

	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func failureStatus(failure *completion.Failure) int {
	switch failure.Kind {
	case completion.KindUnauthorized:
		return http.StatusUnauthorized
	case completion.KindInvalidRequest:
		return http.StatusBadRequest
	case completion.KindRateLimited:
		return http.StatusTooManyRequests
	case completion.KindTimeout:
		return http.StatusGatewayTimeout
	case completion.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		// The upstream answered but produced nothing usable.
		return http.StatusBadGateway
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
