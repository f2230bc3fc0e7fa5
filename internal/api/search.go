package api

import (
	"encoding/json"
	"net/http"

	"github.com/kalambet/recall/internal/resolve"
)

type searchRequest struct {
	Message string `json:"message"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		candidates, err := deps.Analyzer.CandidatesForMessage(r.Context(), req.Message)
		if err != nil {
			storeError(w, err)
			return
		}
		if candidates == nil {
			candidates = []resolve.Candidate{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
	}
}

func handleAnswer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		answer, candidates, err := deps.Analyzer.Answer(r.Context(), req.Message)
		if err != nil {
			storeError(w, err)
			return
		}
		if candidates == nil {
			candidates = []resolve.Candidate{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"answer":     answer,
			"candidates": candidates,
		})
	}
}
