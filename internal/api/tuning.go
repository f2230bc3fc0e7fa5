package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/tuning"
)

type addCurriculumRequest struct {
	Examples []tuning.Example `json:"examples,omitempty"`
	// JSONL holds one {"question","answer"} object per line. Used when
	// Examples is empty.
	JSONL string `json:"jsonl,omitempty"`
}

func handleListBatches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := deps.Queue.List(r.Context())
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func handleCreateBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := deps.Queue.Create(r.Context())
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, summary)
	}
}

func handleGetBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Queue.Read(r.Context(), chi.URLParam(r, "uuid"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func handleDeleteBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keepCurriculum, _ := strconv.ParseBool(r.URL.Query().Get("keep_curriculum"))
		if err := deps.Queue.Delete(r.Context(), chi.URLParam(r, "uuid"), keepCurriculum); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleOffloadBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Queue.Offload(r.Context(), chi.URLParam(r, "uuid"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func handleAddCurriculum(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req addCurriculumRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id := chi.URLParam(r, "uuid")
		var (
			b   tuning.Batch
			err error
		)
		if len(req.Examples) > 0 {
			b, err = deps.Queue.AddCurriculum(r.Context(), id, req.Examples)
		} else {
			b, err = deps.Queue.ImportCurriculum(r.Context(), id, []byte(req.JSONL))
		}
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func handleBatchEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := deps.Queue.Events(r.Context(), chi.URLParam(r, "uuid"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}
