// Package dashboard serves a read-only HTTP view of a mirrored journey.
package dashboard

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the local frontend dev servers
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:4173"}

// NewRouter wires the dashboard endpoints
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", h.Health)
	r.Get("/api/session", h.GetSession)
	r.Get("/api/sessions/{token}", h.GetDocument)
	r.Get("/api/state", h.GetState)

	return r
}

// LogRoutes prints the served endpoints
func LogRoutes(port string) {
	log.Printf("Dashboard starting on :%s", port)
	log.Println("Session endpoints:")
	log.Println("  GET /api/session")
	log.Println("  GET /api/sessions/{token}")
	log.Println("  GET /api/state")
	log.Println("Health:")
	log.Println("  GET /health (with store check)")
}
