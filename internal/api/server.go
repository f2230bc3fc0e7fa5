// Package api exposes the knowledge base over an authenticated REST
// surface and an MCP server.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/analysis"
	"github.com/kalambet/recall/internal/ingest"
	"github.com/kalambet/recall/internal/question"
	"github.com/kalambet/recall/internal/tuning"
)

const maxRequestBodySize = 1 << 20  // 1MB
const maxUploadBodySize = 10 << 20 // 10MB

type Deps struct {
	Questions *question.Store
	Documents *ingest.Store
	Queue     *tuning.Queue
	Analyzer  *analysis.Analyzer
	Token     string
}

// NewHandler builds the REST router. Everything except /health requires
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/questions", handleListQuestions(deps))
		r.Post("/questions", handleCreateQuestion(deps))
		r.Get("/questions/{uuid}", handleGetQuestion(deps))
		r.Patch("/questions/{uuid}", handleUpdateQuestion(deps))
		r.Delete("/questions/{uuid}", handleDeleteQuestion(deps))
		r.Post("/questions/{uuid}/link", handleLinkQuestion(deps))
		r.Post("/questions/{uuid}/finetune", handleFineTuneQuestion(deps))

		r.Post("/search", handleSearch(deps))
		r.Post("/answer", handleAnswer(deps))

		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents", handleUploadDocument(deps))
		r.Get("/documents/{uuid}", handleGetDocument(deps))
		r.Delete("/documents/{uuid}", handleDeleteDocument(deps))
		r.Post("/documents/{uuid}/analyze", handleAnalyzeDocument(deps))

		r.Get("/tuning", handleListBatches(deps))
		r.Post("/tuning", handleCreateBatch(deps))
		r.Get("/tuning/{uuid}", handleGetBatch(deps))
		r.Delete("/tuning/{uuid}", handleDeleteBatch(deps))
		r.Post("/tuning/{uuid}/offload", handleOffloadBatch(deps))
		r.Post("/tuning/{uuid}/curriculum", handleAddCurriculum(deps))
		r.Get("/tuning/{uuid}/events", handleBatchEvents(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
