package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestQuestionsAdd(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /questions": `{"uuid":"q-123","text":"What is the SLA?"}`,
	})

	client := ts.client()

	req := map[string]any{
		"text":   "What is the SLA?",
		"answer": "Four hours.",
	}

	resp, err := client.post(ctx, "/questions", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result["uuid"] != "q-123" {
		t.Errorf("uuid = %q, want %q", result["uuid"], "q-123")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Path != "/questions" {
		t.Errorf("path = %q, want /questions", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["text"] != "What is the SLA?" {
		t.Errorf("body.text = %v, want the question text", body["text"])
	}
	if body["answer"] != "Four hours." {
		t.Errorf("body.answer = %v, want Four hours.", body["answer"])
	}
}

func TestQuestionsList_Paging(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /questions": `[{"uuid":"a","text":"one"},{"uuid":"b","text":"two"}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/questions?page=2&limit=10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var questions []map[string]any
	if err := decodeJSON(resp, &questions); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}

	if ts.requests[0].Path != "/questions?page=2&limit=10" {
		t.Errorf("path = %q, want paging query preserved", ts.requests[0].Path)
	}
}

func TestSearchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /search": `{"candidates":[{"uuid":"q-1","name":"What is the SLA?","text":"Four hours.","similarity":88}]}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/search", map[string]any{"message": "how fast do you respond"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Candidates []struct {
			UUID       string `json:"uuid"`
			Similarity int    `json:"similarity"`
		} `json:"candidates"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(result.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(result.Candidates))
	}
	if result.Candidates[0].Similarity != 88 {
		t.Errorf("similarity = %d, want 88", result.Candidates[0].Similarity)
	}
}

func TestTuningOffload(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /tuning/b-1/offload": `{"fine_tuning_job_id":"ftjob-9","status":"queued"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/tuning/b-1/offload", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var b struct {
		JobID  string `json:"fine_tuning_job_id"`
		Status string `json:"status"`
	}
	if err := decodeJSON(resp, &b); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if b.JobID != "ftjob-9" {
		t.Errorf("job id = %q, want ftjob-9", b.JobID)
	}
	if b.Status != "queued" {
		t.Errorf("status = %q, want queued", b.Status)
	}
}

func TestDecodeJSONErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get(ctx, "/questions/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention the status code", err.Error())
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to carry the server message", err.Error())
	}
}

func TestCountLabel(t *testing.T) {
	if got := countLabel(7, 100); got != "7" {
		t.Errorf("countLabel(7, 100) = %q, want 7", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel(100, 100) = %q, want 100+", got)
	}
}

func TestQuestionsShow_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"questions", "show"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing uuid")
	}
	if !strings.Contains(err.Error(), "arg") {
		t.Errorf("error = %q, want it to mention arguments", err.Error())
	}
}
