// Package api serves the memory log over HTTP for remote bots and the
// automation worker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/memlog"
	"github.com/memorykeep/memorykeep/internal/model"
	"github.com/memorykeep/memorykeep/internal/store"
)

// KeyLookup resolves an API key to the bot it belongs to.
type KeyLookup interface {
	Lookup(key string) (botID string, ok bool)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	log     *memlog.Log
	keys    KeyLookup
	metrics *Metrics
	logger  *zap.Logger
}

// NewHandler creates a new API handler. metrics may be nil.
func NewHandler(log *memlog.Log, keys KeyLookup, metrics *Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Handler{log: log, keys: keys, metrics: metrics, logger: logger.With(zap.String("component", "api"))}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(h.metrics.middleware)

	r.Get("/metrics", h.metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAPIKey)
			r.Post("/log-memory", h.logMemory)
			r.Get("/get-memory", h.getMemory)
			r.Post("/overwrite-memory", h.overwriteMemory)
		})
	})

	return r
}

type ctxKey struct{}

func botIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}
		botID, ok := h.keys.Lookup(key)
		if !ok {
			writeError(w, http.StatusForbidden, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, botID)))
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

type memoryRequest struct {
	Type  string          `json:"type"`
	Entry json.RawMessage `json:"entry"`
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (memoryRequest, error) {
	var req memoryRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)
	return req, err
}

func hasEntry(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func (h *Handler) logMemory(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		req.Type = string(model.MemoryExperience)
	}
	if !hasEntry(req.Entry) {
		writeError(w, http.StatusBadRequest, "Missing 'entry'")
		return
	}
	typ, err := model.ParseMemoryType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := h.log.Append(r.Context(), botIDFrom(r.Context()), typ, req.Entry)
	if err != nil {
		h.storeError(w, "log memory", err)
		return
	}
	h.metrics.recordWrite("append", string(typ))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "logged", "entry": e})
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	t := r.URL.Query().Get("type")
	if t == "" {
		t = string(model.MemoryExperience)
	}
	typ, err := model.ParseMemoryType(t)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.log.ListByType(r.Context(), botIDFrom(r.Context()), typ)
	if err != nil {
		h.storeError(w, "get memory", err)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "No memory found")
		return
	}

	memory := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		memory[i] = e.Content
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"format":  "json",
		"memory":  memory,
		"entries": entries,
	})
}

func (h *Handler) overwriteMemory(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" || !hasEntry(req.Entry) {
		writeError(w, http.StatusBadRequest, "Missing 'type' or 'entry'")
		return
	}
	typ, err := model.ParseMemoryType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := h.log.Overwrite(r.Context(), botIDFrom(r.Context()), typ, req.Entry)
	if err != nil {
		h.storeError(w, "overwrite memory", err)
		return
	}
	h.metrics.recordWrite("overwrite", string(typ))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "overwritten", "entry": e})
}

func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	switch {
	case errors.Is(err, memlog.ErrInvalidType), errors.Is(err, memlog.ErrInvalidBot):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
