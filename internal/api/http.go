// Package api exposes the analysis pipeline to host collaborators over a
// local HTTP surface and an MCP tool server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/sortd/internal/analyze"
	"github.com/kalambet/sortd/internal/storage"
)

const maxAnalyzeBodySize = 1 << 20 // 1MB

// Analyzer is the pipeline surface the API exposes.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string, folders []analyze.SmartFolder) analyze.Result
}

// Suggester ranks folder candidates for free text.
type Suggester interface {
	Match(ctx context.Context, text string, topK int) ([]analyze.Candidate, error)
}

// FolderSource supplies the active folder set when a request omits one.
type FolderSource func(ctx context.Context) []analyze.SmartFolder

// StatusFunc reports component health for the health endpoint.
type StatusFunc func(ctx context.Context) map[string]string

// AppDeps holds dependencies for the HTTP surface. Suggester, Store,
// Folders, and Status are optional; their endpoints degrade when nil.
type AppDeps struct {
	Pipeline Analyzer
	Matcher  Suggester
	Store    *storage.Store
	Folders  FolderSource
	Status   StatusFunc
	Token    string // optional bearer token; empty disables auth
}

type AnalyzeRequest struct {
	Path    string                `json:"path"`
	Folders []analyze.SmartFolder `json:"folders,omitempty"`
}

// NewAppHandler builds the chi router for the local HTTP surface.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/healthz", handleHealth(deps))
	r.Post("/analyze", handleAnalyze(deps))
	r.Post("/suggest", handleSuggest(deps))
	r.Get("/history", handleHistory(deps))
	r.Get("/history/categories", handleCategoryCounts(deps))

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		if deps.Status != nil {
			for k, v := range deps.Status(r.Context()) {
				status[k] = v
			}
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func handleAnalyze(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAnalyzeBodySize)
		defer r.Body.Close()

		var req AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}

		folders := req.Folders
		if folders == nil && deps.Folders != nil {
			folders = deps.Folders(r.Context())
		}

		res := deps.Pipeline.AnalyzeFile(r.Context(), req.Path, folders)
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSuggest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Matcher == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "folder matching is not configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxAnalyzeBodySize)
		defer r.Body.Close()

		var req struct {
			Text  string `json:"text"`
			Limit int    `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		limit := clampLimit(req.Limit, 5, 50)

		matches, err := deps.Matcher.Match(r.Context(), req.Text, limit)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "matching failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "history is not configured")
			return
		}
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit: %v", err)
				return
			}
			limit = clampLimit(n, 20, 200)
		}

		rows, err := deps.Store.RecentAnalyses(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing history: %v", err)
			return
		}
		if rows == nil {
			rows = []storage.Analysis{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"analyses": rows})
	}
}

func handleCategoryCounts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "history is not configured")
			return
		}
		counts, err := deps.Store.CategoryCounts(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "aggregating history: %v", err)
			return
		}
		if counts == nil {
			counts = []storage.CategoryCount{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": counts})
	}
}

func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
