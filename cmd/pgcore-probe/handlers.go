package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	pgcore "github.com/vango-go/vango-pgcore"
)

// querier is what the handlers need from *pgcore.Pool.
type querier interface {
	pgcore.Querier
	pgcore.Pinger
	Stat() pgcore.Stats
}

type server struct {
	pool   querier
	cache  *pgcore.ResultCache
	logger *slog.Logger
}

type category struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description *string    `db:"description" json:"description"`
	CreatedAt   *time.Time `db:"created_at" json:"createdAt,omitempty"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/categories", s.handleListCategories)
	r.Get("/categories/{id}", s.handleGetCategory)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := pgcore.HealthCheck(r.Context(), s.pool)
	if err != nil {
		s.logger.WarnContext(r.Context(), "pgcore-probe: health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stat())
}

func (s *server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	st, err := pgcore.NewStatement("SELECT id, name, description, created_at FROM categories ORDER BY id")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var rows []pgcore.Row
	if s.cache != nil {
		rows, err = pgcore.FetchAllCached(r.Context(), s.pool, s.cache, st)
	} else {
		rows, err = pgcore.FetchAll(r.Context(), s.pool, st)
	}
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	out, err := pgcore.MapRows[category](rows)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	st, err := pgcore.NewStatement("SELECT id, name, description, created_at FROM categories WHERE id = $1::text", chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := pgcore.FetchOneAs[category](r.Context(), s.pool, st)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pgcore.KindNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, pgcore.KindTimeout), errors.Is(err, pgcore.KindConnection):
		s.logger.WarnContext(r.Context(), "pgcore-probe: database unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
	default:
		s.logger.ErrorContext(r.Context(), "pgcore-probe: query failed", "error", err, "kind", pgcore.KindOf(err).String())
		writeError(w, http.StatusInternalServerError, "query failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
