package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/mnemo/internal/ingest"
	"github.com/kalambet/mnemo/internal/janitor"
	"github.com/kalambet/mnemo/internal/memory"
	"github.com/kalambet/mnemo/internal/storage"
)

// EpisodeRequest describes an event to store in episodic memory.
type EpisodeRequest struct {
	UserID           string             `json:"user_id"`
	EventType        string             `json:"event_type"`
	Description      string             `json:"description"`
	EmotionalContext map[string]float64 `json:"emotional_context"`
	Importance       float64            `json:"importance"`
}

func handleStoreEpisode(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req EpisodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id, err := deps.Consolidator.StoreEpisode(req.UserID, req.EventType, req.Description, req.EmotionalContext, req.Importance)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to store episode: %v", err)
			return
		}

		if err := enqueueConsolidation(deps.Store, id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stored episode but failed to queue consolidation: %v", err)
			return
		}

		writeJSON(w, map[string]string{"id": id, "status": "queued"})
	}
}

func handleListEpisodes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		eventType := r.URL.Query().Get("event_type")
		daysBack := parseIntParam(r, "days_back", 30, 3650)

		episodes, err := deps.Retriever.UserEpisodes(userID, daysBack, eventType)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list episodes: %v", err)
			return
		}
		if episodes == nil {
			episodes = []storage.Episode{}
		}
		writeJSON(w, episodes)
	}
}

// RecallRequest asks for episodes similar to a description.
type RecallRequest struct {
	Description string `json:"description"`
	UserID      string `json:"user_id"`
}

func handleRecallEpisodes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req RecallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Description == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "description is required")
			return
		}

		episodes, err := deps.Retriever.SimilarEpisodes(r.Context(), req.Description, req.UserID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recall failed: %v", err)
			return
		}
		if episodes == nil {
			episodes = []memory.ScoredEpisode{}
		}
		writeJSON(w, episodes)
	}
}

func handleGetEpisode(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		episode, err := deps.Store.GetEpisode(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "episode not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get episode: %v", err)
			return
		}
		writeJSON(w, episode)
	}
}

func handleDeleteEpisode(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteEpisode(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "episode not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete episode: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// FactRequest is a subject-predicate-object triple to store.
type FactRequest struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

func handleStoreFact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req FactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Confidence == 0 {
			req.Confidence = 1.0
		}
		if req.Source == "" {
			req.Source = "api"
		}

		id, err := deps.Consolidator.StoreFact(req.Subject, req.Predicate, req.Object, req.Confidence, req.Source)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to store fact: %v", err)
			return
		}

		fact, err := deps.Store.GetFact(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stored fact but failed to load it: %v", err)
			return
		}
		if _, err := deps.Graph.AutoAssociate(fact); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stored fact but association failed: %v", err)
			return
		}

		writeJSON(w, map[string]any{"id": id, "status": "stored"})
	}
}

func handleSearchFacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 10, 100)

		facts, err := deps.Retriever.RelatedFacts(query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to search facts: %v", err)
			return
		}
		if facts == nil {
			facts = []memory.ScoredFact{}
		}
		writeJSON(w, facts)
	}
}

func handleDeleteFact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid fact id")
			return
		}

		err = deps.Store.DeleteFact(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "fact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete fact: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleConsolidate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		var items []memory.ShortTermItem
		if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res := deps.Consolidator.Consolidate(items)
		writeJSON(w, res)
	}
}

// IngestAPIRequest wraps an ingest request with episode attribution.
type IngestAPIRequest struct {
	ingest.Request
	UserID     string  `json:"user_id"`
	Importance float64 `json:"importance"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestAPIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		title, text, err := deps.Resolver.Resolve(r.Context(), req.Request)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to resolve content: %v", err)
			return
		}

		description := text
		if title != "" {
			description = title + "\n" + text
		}

		id, err := deps.Consolidator.StoreEpisode(req.UserID, "ingest", description, nil, req.Importance)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store episode: %v", err)
			return
		}
		if err := enqueueConsolidation(deps.Store, id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stored episode but failed to queue consolidation: %v", err)
			return
		}

		writeJSON(w, map[string]string{"id": id, "status": "queued"})
	}
}

func handleCleanup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Forgetter.Cleanup()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "cleanup failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Forgetter.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to collect stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

func enqueueConsolidation(store *storage.Store, episodeID string) error {
	payload, err := json.Marshal(janitor.ConsolidatePayload{EpisodeID: episodeID})
	if err != nil {
		return err
	}
	return store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        janitor.JobConsolidateEpisode,
		PayloadJSON: string(payload),
		RunAfter:    time.Now().UTC(),
	})
}
