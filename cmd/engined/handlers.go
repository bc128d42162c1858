package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammad-wq/filegpt"
	"github.com/mohammad-wq/filegpt/internal/apperr"
)

type handler struct {
	engine *filegpt.Engine
}

func newHandler(e *filegpt.Engine) *handler {
	return &handler{engine: e}
}

// POST /search: `{query, k?} → {query, results[], count}` (spec §6).
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, 30*time.Second)
	defer cancel()

	var req struct {
		Query string `json:"query"`
		K     int    `json:"k,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.engine.Search(ctx, req.Query, req.K)
	if err != nil {
		writeAppError(w, "search", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}

// POST /ask: `{query, k?, session_id?} → {answer, sources[], intent, tool_used, session_id}`.
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, time.Minute)
	defer cancel()

	var req struct {
		Query     string `json:"query"`
		K         int    `json:"k,omitempty"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.engine.Ask(ctx, req.Query, req.K, req.SessionID)
	if err != nil {
		writeAppError(w, "ask", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /ask_rag: `{query, k?, session_id?} → {answer, sources[], grading_stats, session_id}`.
func (h *handler) handleAskRAG(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, 2*time.Minute)
	defer cancel()

	var req struct {
		Query     string `json:"query"`
		K         int    `json:"k,omitempty"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.engine.AskRAG(ctx, req.Query, req.K, req.SessionID)
	if err != nil {
		writeAppError(w, "ask_rag", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /add_folder: `{path} → {status, path, files_indexed}`.
func (h *handler) handleAddFolder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, 10*time.Minute)
	defer cancel()

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	filesIndexed, err := h.engine.AddFolder(ctx, req.Path)
	if err != nil {
		writeAppError(w, "add_folder", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"path":          req.Path,
		"files_indexed": filesIndexed,
	})
}

// GET /: liveness plus a summary stats snapshot.
func (h *handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeAppError(w, "root", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  stats,
	})
}

// GET /health: dependency status (model runtime circuit breaker).
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.HealthStatus())
}

// GET /stats: index sizes, queue depths.
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeAppError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /watched_folders: list of watched roots.
func (h *handler) handleWatchedFolders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"watched_folders": h.engine.WatchedFolders(),
	})
}

func withTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps an apperr.Kind to the HTTP status spec §7 implies
// and logs the failure with the operation name as a correlation hint.
func writeAppError(w http.ResponseWriter, op string, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		slog.Error("request failed", "op", op, "kind", ae.Kind, "error", err)
		writeJSON(w, apperr.HTTPStatus(ae.Kind), map[string]string{
			"error": ae.Message,
			"kind":  string(ae.Kind),
		})
		return
	}
	slog.Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
