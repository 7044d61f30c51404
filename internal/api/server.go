// Package api exposes the operational HTTP surface: health, runtime status
// and read-only access to persisted artifacts. Generated pages themselves are
// served by a separate front layer, not here.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"forgelet/internal/dispatch"
	"forgelet/internal/store"
)

// DepthReporter reports the number of pending queue files.
type DepthReporter interface {
	Depth() (int, error)
}

// StatsReporter reports worker-pool counters.
type StatsReporter interface {
	Stats() dispatch.Stats
}

type Deps struct {
	Store   *store.Store
	Queue   DepthReporter
	Workers StatsReporter
	Version string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Get("/status", handleStatus(deps))
	r.Get("/artifacts", handleListArtifacts(deps))
	r.Get("/artifacts/{owner}/{slug}", handleGetArtifact(deps))

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": deps.Version,
		})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depth, err := deps.Queue.Depth()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading queue depth: %v", err)
			return
		}
		total, err := deps.Store.Count(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting artifacts: %v", err)
			return
		}

		stats := deps.Workers.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"version":     deps.Version,
			"queue_depth": depth,
			"workers":     stats.Workers,
			"processed":   stats.Processed,
			"failed":      stats.Failed,
			"artifacts":   total,
		})
	}
}

func handleListArtifacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		artifacts, err := deps.Store.ListRecent(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing artifacts: %v", err)
			return
		}
		if artifacts == nil {
			artifacts = []store.Artifact{}
		}

		type item struct {
			StorageKey  string `json:"storage_key"`
			OwnerSlug   string `json:"owner_slug"`
			AppSlug     string `json:"app_slug"`
			Category    string `json:"category"`
			Brief       string `json:"brief"`
			CompanionOf string `json:"companion_of,omitempty"`
			CreatedAt   string `json:"created_at"`
		}
		items := make([]item, len(artifacts))
		for i, a := range artifacts {
			items[i] = item{
				StorageKey:  a.StorageKey,
				OwnerSlug:   a.OwnerSlug,
				AppSlug:     a.AppSlug,
				Category:    a.Category,
				Brief:       a.Brief,
				CompanionOf: a.CompanionOf,
				CreatedAt:   a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items)
	}
}

func handleGetArtifact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := chi.URLParam(r, "owner")
		slug := chi.URLParam(r, "slug")

		a, err := deps.Store.GetBySlug(r.Context(), owner, slug)
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "artifact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting artifact: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"storage_key":  a.StorageKey,
			"owner_slug":   a.OwnerSlug,
			"app_slug":     a.AppSlug,
			"category":     a.Category,
			"brief":        a.Brief,
			"request_text": a.RequestText,
			"html":         a.HTML,
			"data_key":     a.DataKey,
			"companion_of": a.CompanionOf,
			"created_at":   a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
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

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
