package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second
)

// Client talks to an OpenAI-compatible fine-tuning API: file upload, job
// creation, job status, and event listing. No retries at this layer.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// UploadFile uploads JSONL training data with purpose "fine-tune" and
// returns the file handle.
func (c *Client) UploadFile(ctx context.Context, filename string, jsonl []byte) (File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("purpose", "fine-tune"); err != nil {
		return File{}, fmt.Errorf("writing purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return File{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(jsonl); err != nil {
		return File{}, fmt.Errorf("writing file content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return File{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return File{}, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var file File
	if err := c.do(req, &file); err != nil {
		return File{}, err
	}
	return file, nil
}

// CreateJob creates a fine-tuning job referencing a previously uploaded file.
func (c *Client) CreateJob(ctx context.Context, jobReq JobRequest) (Job, error) {
	body, err := json.Marshal(jobReq)
	if err != nil {
		return Job{}, fmt.Errorf("marshalling job request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fine_tuning/jobs", bytes.NewReader(body))
	if err != nil {
		return Job{}, fmt.Errorf("creating job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var job Job
	if err := c.do(req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches the current state of a fine-tuning job.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fine_tuning/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return Job{}, fmt.Errorf("creating job status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var job Job
	if err := c.do(req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// ListEvents returns up to limit events of a job's log, newest first as
// reported by the API.
func (c *Client) ListEvents(ctx context.Context, id string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}

	u := c.baseURL + "/fine_tuning/jobs/" + url.PathEscape(id) + "/events?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating events request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var list eventList
	if err := c.do(req, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var envelope errorResponse
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
			return &APIError{
				Status:  resp.StatusCode,
				Type:    envelope.Error.Type,
				Message: envelope.Error.Message,
			}
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
