package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mnemo/internal/profile"
)

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		p, err := deps.Profiles.Get(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var upd profile.Update
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		p, err := deps.Profiles.Apply(userID, upd)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update profile: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handleDeleteProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		if err := deps.Profiles.Delete(userID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete profile: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleGetSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		summary, err := deps.Profiles.Summary(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build summary: %v", err)
			return
		}
		writeJSON(w, map[string]string{"user_id": userID, "summary": summary})
	}
}

// TurnRequest is one conversational exchange to record against a profile.
type TurnRequest struct {
	UserInput     string `json:"user_input"`
	Response      string `json:"response"`
	EmotionalTone string `json:"emotional_tone"`
}

func handleRecordTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserInput == "" && req.Response == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of user_input or response is required")
			return
		}

		p, err := deps.Profiles.RecordTurn(userID, profile.Turn{
			Timestamp:     time.Now().UTC(),
			UserInput:     req.UserInput,
			Response:      req.Response,
			EmotionalTone: req.EmotionalTone,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record turn: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"status":            "recorded",
			"interaction_count": p.InteractionCount,
		})
	}
}
