package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/question"
)

type createQuestionRequest struct {
	Text      string              `json:"text"`
	Answer    string              `json:"answer"`
	Embedding []float32           `json:"embedding,omitempty"`
	Origin    *question.OriginRef `json:"origin,omitempty"`
}

type updateQuestionRequest struct {
	Text            *string    `json:"text,omitempty"`
	Answer          *string    `json:"answer,omitempty"`
	Embedding       []float32  `json:"embedding,omitempty"`
	ExpectUpdatedAt *time.Time `json:"expect_updated_at,omitempty"`
}

type linkQuestionRequest struct {
	Targets []question.OriginRef `json:"targets"`
}

func handleListQuestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := parseIntParam(r, "page", 0, 0)
		limit := parseIntParam(r, "limit", 50, 500)

		writeJSON(w, http.StatusOK, deps.Questions.List(page, limit))
	}
}

func handleCreateQuestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createQuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		summary, err := deps.Questions.Create(r.Context(), question.Question{
			Text:      req.Text,
			Answer:    req.Answer,
			Embedding: req.Embedding,
			Origin:    req.Origin,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, summary)
	}
}

func handleGetQuestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := deps.Questions.Read(r.Context(), chi.URLParam(r, "uuid"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func handleUpdateQuestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req updateQuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		summary, err := deps.Questions.Update(r.Context(), chi.URLParam(r, "uuid"), question.Patch{
			Text:            req.Text,
			Answer:          req.Answer,
			Embedding:       req.Embedding,
			ExpectUpdatedAt: req.ExpectUpdatedAt,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleDeleteQuestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Questions.Delete(r.Context(), chi.URLParam(r, "uuid")); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleLinkQuestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req linkQuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Targets) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "targets is required and must not be empty")
			return
		}

		id := chi.URLParam(r, "uuid")
		if err := deps.Questions.Link(r.Context(), id, req.Targets, deps.Analyzer); err != nil {
			storeError(w, err)
			return
		}

		q, err := deps.Questions.Read(r.Context(), id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func handleFineTuneQuestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "uuid")
		if err := deps.Analyzer.FineTuneQuestion(r.Context(), id); err != nil {
			storeError(w, err)
			return
		}

		q, err := deps.Questions.Read(r.Context(), id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
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
