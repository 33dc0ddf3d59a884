// Package server exposes the queue over HTTP: JSON endpoints for
// mutations and searches, and a WebSocket feed of state snapshots.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/solttila/rotation/internal/catalog"
	"github.com/solttila/rotation/internal/queue"
)

// Server handles HTTP requests for the queue API.
type Server struct {
	store   *queue.Store
	catalog catalog.Catalog
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a new HTTP server around the queue store and catalog.
func New(store *queue.Store, cat catalog.Catalog, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		catalog: cat,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/queue", s.handleQueue)
	s.mux.HandleFunc("POST /api/queue", s.handleSubmit)
	s.mux.HandleFunc("POST /api/queue/swap", s.handleSwap)
	s.mux.HandleFunc("POST /api/queue/move", s.handleMove)
	s.mux.HandleFunc("POST /api/queue/{id}/play", s.handlePlay)
	s.mux.HandleFunc("DELETE /api/queue/{id}", s.handleRemove)
	s.mux.HandleFunc("POST /api/queue/{id}/withdraw", s.handleWithdraw)
	s.mux.HandleFunc("POST /api/queue/{id}/front", s.handleFront)
	s.mux.HandleFunc("POST /api/bugs", s.handleBug)
	s.mux.HandleFunc("GET /api/songs/search", s.handleSearch)
	s.mux.HandleFunc("GET /ws", s.handleSubscribe)

	return s
}

// handleQueue returns the current full queue state.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.State())
}

// handleSubmit appends a new entry to the queue.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}

	req, err := parseSubmit(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, ok, err := s.store.Submit(r.Context(), *req.Song, req.Singer, req.Password)
	if err != nil {
		s.logger.Error("Failed to submit entry", "song", *req.Song, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "unknown song", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// handlePlay advances the entry into the play history.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	found, err := s.store.Advance(r.Context(), id)
	s.respondFound(w, "advance", found, err)
}

// handleRemove deletes the entry without checking any secret.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	found, err := s.store.Remove(r.Context(), id)
	s.respondFound(w, "remove", found, err)
}

// handleWithdraw deletes the entry if the presented password matches
// the submission secret. Wrong passwords and unknown ids are not
// distinguished.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		return
	}
	req, err := parseWithdraw(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	found, err := s.store.RemoveWithSecret(r.Context(), id, req.Password)
	s.respondFound(w, "withdraw", found, err)
}

// handleFront moves the entry to the queue head.
func (s *Server) handleFront(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	found, err := s.store.MoveToFront(r.Context(), id)
	s.respondFound(w, "front", found, err)
}

// handleSwap exchanges the positions of two entries.
func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	req, err := parseSwap(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	found, err := s.store.Swap(r.Context(), req.A, req.B)
	s.respondFound(w, "swap", found, err)
}

// handleMove relocates an entry directly after another one.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	req, err := parseMove(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	found, err := s.store.MoveAfter(r.Context(), req.ID, req.After)
	s.respondFound(w, "move", found, err)
}

// handleBug files a bug report against a song. The store never fails
// the report, so a well-formed request is always accepted.
func (s *Server) handleBug(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	req, err := parseBug(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.store.ReportBug(r.Context(), *req.Song, req.Text)
	w.WriteHeader(http.StatusAccepted)
}

// songResponse is the wire form of a catalog song.
type songResponse struct {
	ID         int64  `json:"id"`
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	DurationMs int64  `json:"durationMs"`
}

// handleSearch runs a catalog search for the q parameter.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	songs, err := s.catalog.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("Failed to search songs", "query", query, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	results := make([]songResponse, len(songs))
	for i, song := range songs {
		results[i] = songResponse{
			ID:         song.ID,
			Artist:     song.Artist,
			Title:      song.Title,
			DurationMs: song.Duration.Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, results)
}

// respondFound maps the (found, error) pair every queue mutation
// returns onto a status code.
func (s *Server) respondFound(w http.ResponseWriter, op string, found bool, err error) {
	if err != nil {
		s.logger.Error("Queue operation failed", "op", op, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return nil, err
	}
	defer r.Body.Close()
	return body, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Handler returns the HTTP handler for use with custom servers (e.g., for testing).
func (s *Server) Handler() http.Handler {
	return s.mux
}
