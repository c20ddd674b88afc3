package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the public surface. metrics may be nil.
func NewRouter(presence *PresenceHandler, ws *WebSocketHandler, verifier TokenVerifier, metrics http.Handler) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}

	router.Group(func(r chi.Router) {
		r.Use(Authenticate(verifier))
		r.Handle("/ws", ws)
		r.Mount("/api/v1/presence", presence.Routes())
	})
	return router
}
