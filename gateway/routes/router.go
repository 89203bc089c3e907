// Package routes mounts the API surface behind the authentication gate.
package routes

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pokemon918/ntbl-api-sub003/gateway/middleware"
	"github.com/pokemon918/ntbl-api-sub003/storage/identity"
)

// Config wires the router's collaborators.
type Config struct {
	Auth          *middleware.SignatureAuth
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Identities    *identity.Store
	Logger        *slog.Logger
}

// New builds the HTTP handler tree: health and metrics in the open,
// profile and tasting routes behind the gate, and the impersonation
// escape hatch on its own allow-listed admin mount.
func New(cfg Config) (http.Handler, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if cfg.Identities == nil {
		return nil, fmt.Errorf("identity store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handlers := &apiHandlers{identities: cfg.Identities, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Group(func(sr chi.Router) {
		sr.Use(cfg.Auth.Middleware(false, true))
		sr.Get("/profile", handlers.profile)
		sr.Post("/tasting", handlers.createTasting)
		sr.Get("/tastings", handlers.listTastings)
	})

	r.Route("/admin", func(sr chi.Router) {
		sr.Use(cfg.Auth.Middleware(true, false))
		sr.Post("/impersonate", handlers.impersonate(cfg.Auth))
	})

	return r, nil
}
