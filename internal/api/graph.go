package api

import (
	"encoding/json"
	"net/http"

	"github.com/kalambet/mnemo/internal/storage"
)

// EntityRequest describes an entity to create or refresh.
type EntityRequest struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func handleUpsertEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req EntityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id, err := deps.Graph.UpsertEntity(req.Name, req.Type, req.Attributes)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to upsert entity: %v", err)
			return
		}
		writeJSON(w, map[string]any{"id": id, "status": "stored"})
	}
}

// AssociationRequest links two entities by ID.
type AssociationRequest struct {
	SourceID   int64             `json:"source_id"`
	TargetID   int64             `json:"target_id"`
	Type       string            `json:"type"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata"`
}

func handleAssociate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req AssociationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Confidence == 0 {
			req.Confidence = 1.0
		}

		id, err := deps.Graph.Associate(req.SourceID, req.TargetID, req.Type, req.Confidence, req.Metadata)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to create association: %v", err)
			return
		}
		writeJSON(w, map[string]any{"id": id, "status": "stored"})
	}
}

func handleRelated(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		relType := r.URL.Query().Get("type")

		related, err := deps.Graph.Related(name, relType)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to find related entities: %v", err)
			return
		}
		if related == nil {
			related = []storage.RelatedEntity{}
		}
		writeJSON(w, related)
	}
}

func handleStrength(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := r.URL.Query().Get("a")
		b := r.URL.Query().Get("b")
		if a == "" || b == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "both a and b are required")
			return
		}

		strength, err := deps.Graph.Strength(a, b)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute strength: %v", err)
			return
		}
		writeJSON(w, map[string]any{"a": a, "b": b, "strength": strength})
	}
}
