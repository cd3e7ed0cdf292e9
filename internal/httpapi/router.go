package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server holds the dependencies every route handler needs: the
// gateway/secret registry and a logger.
type Server struct {
	registry *Registry
	logger   *slog.Logger
}

// NewServer constructs a Server. registry must already have every
// gateway this process serves registered.
func NewServer(registry *Registry, logger *slog.Logger) *Server {
	return &Server{registry: registry, logger: logger}
}

// Router builds the chi.Mux described in SPEC_FULL §4.9/§6: request-id
// and panic-recovery middleware wrap every route, CORS permits
// browser-based clients, and JWT auth guards the sync/admin routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", handleHealth)

	r.Route("/sync/{gatewayId}", func(sr chi.Router) {
		sr.With(s.requireRole(RoleClient)).Post("/push", s.handlePush)
		sr.With(s.requireRole(RoleClient)).Get("/pull", s.handlePull)
		sr.With(s.requireRole(RoleClient)).Post("/flush", s.handleFlush)
		sr.With(s.requireRole(RoleClient)).Get("/watch", s.handleWatch)
	})

	r.Route("/admin/schema/{gatewayId}", func(sr chi.Router) {
		sr.With(s.requireRole(RoleAdmin)).Post("/", s.handleAdminSchema)
	})

	return r
}
