package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skysched/vertiport/internal/admission"
	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/websocket"
	"github.com/skysched/vertiport/pkg/logger"
)

// Router assembles the HTTP surface: the REST API, the observer WebSocket
// endpoint, and the static operator console.
type Router struct {
	handler  *Handler
	wsServer *websocket.Server
	logger   *logger.Logger
}

// NewRouter creates the API router
func NewRouter(controller *admission.Controller, cfg *config.Config, log *logger.Logger, wsServer *websocket.Server) *Router {
	return &Router{
		handler:  NewHandler(controller, cfg, log),
		wsServer: wsServer,
		logger:   log.Named("api-router"),
	}
}

// Routes returns the assembled http.Handler.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/vehicles", rt.handler.GetVehicles)
		r.Get("/queue", rt.handler.GetQueue)
		r.Post("/queue/{id}/approve", rt.handler.ApproveLanding)
		r.Get("/landed", rt.handler.GetLanded)
		r.Get("/health", rt.handler.GetHealth)
	})

	r.Get("/ws", rt.wsServer.HandleConnection)

	// Everything else falls through to the operator console assets.
	r.NotFound(NewStaticFileHandler("web", rt.logger).ServeHTTP)

	return r
}
