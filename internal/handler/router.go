package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/saikaki/backend/internal/handler/chat"
	streamhandler "github.com/saikaki/backend/internal/handler/stream"
	visionhandler "github.com/saikaki/backend/internal/handler/vision"
	middlewarePkg "github.com/saikaki/backend/internal/middleware"
	"github.com/saikaki/backend/internal/service/ai"
	chatservice "github.com/saikaki/backend/internal/service/chat"
	"github.com/saikaki/backend/internal/service/enrich"
	visionservice "github.com/saikaki/backend/internal/service/vision"
	"github.com/saikaki/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatservice.Service, completer ai.Completer, enricher enrich.Enricher, visionSvc *visionservice.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chathandler.New(chatSvc, completer, enricher)

	var streamHandler *streamhandler.Handler
	if completer != nil {
		streamHandler = streamhandler.New(chatSvc, completer, enricher)
	}

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)

		if streamHandler != nil {
			streamHandler.RegisterRoutes(api)
		} else {
			api.Post("/sessions/{sessionID}/stream", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
			})
		}

		if visionSvc != nil {
			visionhandler.New(visionSvc).RegisterRoutes(api)
		}
	})

	return r
}
