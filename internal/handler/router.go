package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chatHandler "github.com/devhaln/pagepal/backend/internal/handler/chat"
	sessionHandler "github.com/devhaln/pagepal/backend/internal/handler/session"
	sourceHandler "github.com/devhaln/pagepal/backend/internal/handler/source"
	"github.com/devhaln/pagepal/backend/internal/handler/stream"
	wsHandler "github.com/devhaln/pagepal/backend/internal/handler/ws"
	middlewarePkg "github.com/devhaln/pagepal/backend/internal/middleware"
	chatService "github.com/devhaln/pagepal/backend/internal/service/chat"
	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
	"github.com/devhaln/pagepal/backend/internal/service/ingest"
	"github.com/devhaln/pagepal/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. chatSvc may be nil when
// no model credentials are configured; chat endpoints then answer 503.
func NewRouter(sessions store.Store, ingestSvc *ingest.Service, chatSvc *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		sessionHandler.New(sessions).RegisterRoutes(api)
		sourceHandler.New(ingestSvc, sessions).RegisterRoutes(api)

		if chatSvc == nil {
			api.Handle("/session/{sessionID}/chat", unavailable())
			api.Handle("/session/{sessionID}/prompt", unavailable())
			api.Handle("/stream/{sessionID}", unavailable())
			api.Handle("/ws/{sessionID}", unavailable())
			return
		}

		chatHandler.New(chatSvc).RegisterRoutes(api)
		wsHandler.New(chatSvc).RegisterRoutes(api)

		streamHandler := stream.New(chatSvc)
		api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			userMessage := r.URL.Query().Get("message")

			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})
	})

	return r
}

func unavailable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusServiceUnavailable, "model backend not configured")
	}
}
