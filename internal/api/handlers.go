package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grimoire-md/grimoire/internal/conflict"
	"github.com/grimoire-md/grimoire/internal/index"
	"github.com/grimoire-md/grimoire/internal/vault"
)

// Handler exposes vault operations over HTTP.
type Handler struct {
	m *vault.Manager
}

// NewHandler creates an API handler backed by the given engine.
func NewHandler(m *vault.Manager) *Handler {
	return &Handler{m: m}
}

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Folder  string `json:"folder"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content"`
}

// ResolveConflictRequest identifies one conflict record.
type ResolveConflictRequest struct {
	NoteID    string `json:"note_id"`
	Timestamp int64  `json:"timestamp"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []index.Note `json:"notes"`
	Total int          `json:"total"`
}

// ConflictListResponse wraps unresolved conflict records.
type ConflictListResponse struct {
	Conflicts []conflict.Record `json:"conflicts"`
}

// ListNotes handles GET /notes with an optional folder filter.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	var folder *string
	if r.URL.Query().Has("folder") {
		f := r.URL.Query().Get("folder")
		folder = &f
	}
	notes, err := h.m.ListNotes(folder)
	if err != nil {
		writeError(w, err)
		return
	}
	if notes == nil {
		notes = []index.Note{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// CreateNote handles POST /notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	note, err := h.m.CreateNote(req.Folder, req.Title, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// GetNote handles GET /notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	content, err := h.m.ReadNote(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

// UpdateNote handles PUT /notes/{id}. A 409 means the file diverged on disk;
// the attempted content has been saved as a conflict snapshot.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	note, err := h.m.UpdateNote(chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /notes/{id}?permanent=true.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	permanent := r.URL.Query().Get("permanent") == "true"
	if err := h.m.DeleteNote(chi.URLParam(r, "id"), permanent); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"trashed": !permanent})
}

// Search handles GET /search?q=term.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	notes, err := h.m.SearchNotes(q)
	if err != nil {
		writeError(w, err)
		return
	}
	if notes == nil {
		notes = []index.Note{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.m.GetStats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Conflicts handles GET /conflicts.
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	recs, err := h.m.UnresolvedConflicts()
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []conflict.Record{}
	}
	writeJSON(w, http.StatusOK, ConflictListResponse{Conflicts: recs})
}

// ResolveConflict handles POST /conflicts/resolve.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NoteID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if err := h.m.ResolveConflict(req.NoteID, req.Timestamp); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}
