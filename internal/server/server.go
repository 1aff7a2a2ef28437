// Package server exposes batch control and polling over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dyluth/flock/internal/batch"
	"github.com/dyluth/flock/internal/coordinator"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/internal/repository"
	"github.com/dyluth/flock/pkg/blackboard"
)

// SessionHeader carries the caller's session ID.
const SessionHeader = "X-Flock-Session"

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config for the HTTP handler.
type Config struct {
	Manager    *batch.Manager
	Repository *repository.Repository
	Store      Pinger
	Logger     *logger.Logger
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type startResponse struct {
	BatchID string `json:"batch_id"`
}

type migrationDTO struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	Category     string   `json:"category"`
	Heuristic    string   `json:"heuristic"`
	Plugins      []string `json:"plugins"`
	Dependencies []string `json:"dependencies"`
	Total        int      `json:"total"`
	Processed    int      `json:"processed"`
	Imported     int      `json:"imported"`
	Failed       int      `json:"failed"`
	Messages     int      `json:"messages"`
	Completed    bool     `json:"completed"`
	LastImport   int64    `json:"last_import_started_ms,omitempty"`
	Duration     int64    `json:"last_import_duration_ms,omitempty"`
}

type handler struct {
	cfg Config
	log *logger.Logger
}

// New returns an HTTP handler exposing the flock API.
func New(cfg Config) http.Handler {
	h := &handler{cfg: cfg, log: cfg.Logger.Component("server")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Get("/migrations", h.listMigrations)
	r.Post("/migrations/{id}/{action}", h.startMigration)
	r.Route("/batches", func(r chi.Router) {
		r.Post("/all/import", h.importAll)
		r.Post("/stop", h.stop)
		r.Get("/{id}", h.poll)
	})
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request")
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listMigrations(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.cfg.Repository.Summaries(r.Context())
	if err != nil {
		h.internal(w, err)
		return
	}
	out := make([]migrationDTO, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, migrationDTO{
			ID:           s.ID,
			Label:        s.Label,
			Category:     string(s.Category),
			Heuristic:    s.Heuristic,
			Plugins:      nonNil(s.PluginIDs),
			Dependencies: nonNil(s.Dependencies),
			Total:        s.Progress.Total,
			Processed:    s.Progress.Processed,
			Imported:     s.Progress.Imported,
			Failed:       s.Progress.Failed,
			Messages:     s.Progress.Messages,
			Completed:    s.Meta.Completed,
			LastImport:   s.Meta.LastImportStartedMs,
			Duration:     s.Meta.LastImportDurationMs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) startMigration(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, blackboard.Action(chi.URLParam(r, "action")), chi.URLParam(r, "id"))
}

func (h *handler) importAll(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, blackboard.ActionImport, blackboard.TargetAll)
}

func (h *handler) start(w http.ResponseWriter, r *http.Request, action blackboard.Action, target string) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	if err := action.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_action", err.Error())
		return
	}
	id, err := h.cfg.Manager.Start(r.Context(), session, action, target)
	switch {
	case errors.Is(err, batch.ErrBatchActive):
		writeError(w, http.StatusConflict, "batch_active", err.Error())
	case errors.Is(err, repository.ErrUnknownMigration):
		writeError(w, http.StatusNotFound, "unknown_migration", err.Error())
	case err != nil:
		h.internal(w, err)
	default:
		writeJSON(w, http.StatusAccepted, startResponse{BatchID: id})
	}
}

// poll drives one slice when the caller owns the batch.
func (h *handler) poll(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	st, err := h.cfg.Manager.Poll(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		h.internal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Manager.RequestStop(r.Context()); err != nil {
		h.internal(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stop requested"})
}

func (h *handler) internal(w http.ResponseWriter, err error) {
	h.log.Error(err, "request failed")
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

func sessionOf(w http.ResponseWriter, r *http.Request) (coordinator.Session, bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_session", SessionHeader+" header is required")
		return coordinator.Session{}, false
	}
	return coordinator.NewHTTPSession(id), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
