package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestComplete(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "30 days."}},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	}))
	defer server.Close()

	c := NewClientWithBaseURL("test-key", server.URL)
	text, usage, err := c.Complete(context.Background(), "gpt-4o", []Message{
		{Role: "user", Content: "What is the refund window?"},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "30 days." {
		t.Errorf("text = %q, want %q", text, "30 days.")
	}
	if usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", usage.TotalTokens)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o" || len(gotReq.Messages) != 1 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer server.Close()

	c := NewClientWithBaseURL("test-key", server.URL)
	_, _, err := c.Complete(context.Background(), "gpt-4o", []Message{{Role: "user", Content: "hi"}}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Type != "rate_limit_error" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		// Out of order on purpose.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
			"usage": map[string]any{"prompt_tokens": 6, "total_tokens": 6},
		})
	}))
	defer server.Close()

	c := NewClientWithBaseURL("test-key", server.URL)
	vectors, _, err := c.Embed(context.Background(), "text-embedding-3-small", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.2 {
		t.Errorf("vectors out of input order: %v", vectors)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := NewClientWithBaseURL("test-key", "http://unused")
	vectors, usage, err := c.Embed(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vectors != nil || usage.TotalTokens != 0 {
		t.Errorf("got %v / %+v, want nil / zero usage", vectors, usage)
	}
}

func TestEmbedChunked(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": []float32{float32(len(req.Input[i]))}}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data":  data,
			"usage": map[string]any{"prompt_tokens": len(req.Input), "total_tokens": len(req.Input)},
		})
	}))
	defer server.Close()

	input := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	c := NewClientWithBaseURL("test-key", server.URL)
	vectors, usage, err := c.EmbedChunked(context.Background(), "m", input, 2)
	if err != nil {
		t.Fatalf("EmbedChunked: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("got %d API calls, want 3", calls.Load())
	}
	if len(vectors) != len(input) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(input))
	}
	for i, text := range input {
		if vectors[i][0] != float32(len(text)) {
			t.Errorf("vectors[%d] = %v, want [%d]", i, vectors[i], len(text))
		}
	}
	if usage.TotalTokens != len(input) {
		t.Errorf("summed TotalTokens = %d, want %d", usage.TotalTokens, len(input))
	}
}

func TestUsageWithPurpose(t *testing.T) {
	u := Usage{TotalTokens: 5}
	tagged := u.WithPurpose("Embedding")
	if tagged.Purpose != "Embedding" || tagged.TotalTokens != 5 {
		t.Errorf("tagged = %+v", tagged)
	}
	if u.Purpose != "" {
		t.Errorf("original mutated: %+v", u)
	}
}
