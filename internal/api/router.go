package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/sift/internal/researchservice"
	"github.com/starford/sift/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced. stream serves
// the SSE endpoints and may be nil.
func NewRouter(svc *researchservice.Service, stream *sse.Handler, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc, stream)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/research", h.CreateResearch)
	r.Get("/research/{id}", h.GetResearch)
	r.Delete("/research/{id}", h.DeleteResearch)
	r.Get("/research/{id}/progress", h.Progress)
	r.Get("/research/{id}/search", h.Search)

	if stream != nil {
		r.Get("/stream/{id}", h.Stream)
		r.Get("/stream/{id}/cards", h.StreamCards)
	}
	return r
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthRouter serves unauthenticated liveness and readiness probes.
func HealthRouter(db Pinger) chi.Router {
	r := chi.NewRouter()
	r.Get("/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
