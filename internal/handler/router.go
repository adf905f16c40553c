package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	captureHandler "github.com/yearsky/nara-companion/internal/handler/capture"
	sessionHandler "github.com/yearsky/nara-companion/internal/handler/session"
	streamHandler "github.com/yearsky/nara-companion/internal/handler/stream"
	middlewarePkg "github.com/yearsky/nara-companion/internal/middleware"
	"github.com/yearsky/nara-companion/pkg/utils"
)

// Deps collects the handlers the router mounts. Capture may be nil when no
// microphone transport is wired (e.g. pure REST deployments).
type Deps struct {
	Session *sessionHandler.Handler
	Stream  *streamHandler.Hub
	Capture *captureHandler.WebSocketHandler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		deps.Session.RegisterRoutes(api)

		if deps.Stream != nil {
			deps.Stream.RegisterRoutes(api)
		}
		if deps.Capture != nil {
			deps.Capture.RegisterRoutes(api)
		}
	})

	return r
}
