package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/brightpost/newsletter/internal/config"
)

// Server is the HTTP front end for campaign management.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer wires the routes and middleware around the given handlers.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HandleHealth)
	r.Get("/unsubscribe/{token}", h.HandleUnsubscribe)

	r.Route("/api", func(r chi.Router) {
		r.Post("/campaigns", h.HandleCreateCampaign)
		r.Get("/campaigns", h.HandleListCampaigns)
		r.Get("/campaigns/{id}", h.HandleGetCampaign)
		r.Get("/campaigns/{id}/queue", h.HandleListQueueItems)
		r.Post("/campaigns/{id}/cancel", h.HandleCancelCampaign)
		r.Post("/campaigns/{id}/complete", h.HandleCompleteCampaign)
		r.Post("/queue/{id}/cancel", h.HandleCancelQueueItem)
		r.Post("/send", h.HandleOneTimeSend)
	})

	return &Server{cfg: cfg, handler: r}
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
