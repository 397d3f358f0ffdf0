// Package api exposes the memory service over REST and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mnemo/internal/graph"
	"github.com/kalambet/mnemo/internal/ingest"
	"github.com/kalambet/mnemo/internal/memory"
	"github.com/kalambet/mnemo/internal/profile"
	"github.com/kalambet/mnemo/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxIngestBodySize = 10 << 20 // 10MB, base64 file uploads

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store        *storage.Store
	Profiles     *profile.Manager
	Consolidator *memory.Consolidator
	Retriever    *memory.Retriever
	Forgetter    *memory.Forgetter
	Graph        *graph.Service
	Resolver     *ingest.Resolver
	Token        string
}

// NewHandler returns the service's HTTP handler. Everything except /health
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/profile", handleGetProfile(deps))
			r.Patch("/profile", handlePatchProfile(deps))
			r.Delete("/profile", handleDeleteProfile(deps))
			r.Get("/summary", handleGetSummary(deps))
			r.Post("/turns", handleRecordTurn(deps))
		})

		r.Route("/episodes", func(r chi.Router) {
			r.Post("/", handleStoreEpisode(deps))
			r.Get("/", handleListEpisodes(deps))
			r.Post("/recall", handleRecallEpisodes(deps))
			r.Get("/{id}", handleGetEpisode(deps))
			r.Delete("/{id}", handleDeleteEpisode(deps))
		})

		r.Route("/facts", func(r chi.Router) {
			r.Post("/", handleStoreFact(deps))
			r.Get("/", handleSearchFacts(deps))
			r.Delete("/{id}", handleDeleteFact(deps))
		})

		r.Route("/graph", func(r chi.Router) {
			r.Post("/entities", handleUpsertEntity(deps))
			r.Post("/associations", handleAssociate(deps))
			r.Get("/related", handleRelated(deps))
			r.Get("/strength", handleStrength(deps))
		})

		r.Post("/consolidate", handleConsolidate(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Post("/cleanup", handleCleanup(deps))
		r.Get("/stats", handleStats(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
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

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
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
