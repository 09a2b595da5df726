package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/generate", h.Generate)
	mux.HandleFunc("GET /api/status/{id}", h.Status)
	mux.HandleFunc("DELETE /api/status/{id}", h.CancelGeneration)
	mux.HandleFunc("POST /api/reconcile", h.Reconcile)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("DELETE /api/history", h.DeleteHistory)
	mux.HandleFunc("GET /api/videos/{filename}", h.ServeArtifact)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
