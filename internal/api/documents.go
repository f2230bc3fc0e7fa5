package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/question"
)

type uploadDocumentRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	// Content is base64 for binary content types, plain text otherwise.
	Content string `json:"content"`
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Documents.List(r.Context()))
	}
}

func handleUploadDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req uploadDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.ContentType == "" {
			req.ContentType = "text/plain"
		}

		content := []byte(req.Content)
		if req.ContentType == "application/pdf" {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			content = decoded
		}

		doc, err := deps.Documents.Create(r.Context(), req.Name, content, req.ContentType)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Documents.Read(r.Context(), chi.URLParam(r, "uuid"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Documents.Delete(r.Context(), chi.URLParam(r, "uuid")); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleAnalyzeDocument generates question/answer pairs from a stored
// document and files them under the document's origin.
func handleAnalyzeDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "uuid")

		doc, err := deps.Documents.Read(r.Context(), id)
		if err != nil {
			storeError(w, err)
			return
		}

		origin := question.OriginRef{Kind: question.OriginDocument, UUID: doc.UUID}
		summaries, err := deps.Analyzer.QuestionsFromDocument(r.Context(), origin, doc.Text)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document":  doc.UUID,
			"questions": summaries,
		})
	}
}
