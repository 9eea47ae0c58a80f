package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grimoire-md/grimoire/internal/vault"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(m *vault.Manager, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(m)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// Queries.
	r.Get("/search", h.Search)
	r.Get("/stats", h.Stats)

	// Conflicts.
	r.Get("/conflicts", h.Conflicts)
	r.Post("/conflicts/resolve", h.ResolveConflict)

	// SSE event stream (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
