package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// Client communicates with an OpenAI-compatible chat/embedding API.
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

// Complete sends a chat completion request and returns the assistant's
// response text along with the token usage of the call. There are no retries:
// a failed call surfaces directly to the caller.
func (c *Client) Complete(ctx context.Context, model string, messages []Message, temperature *float64) (string, Usage, error) {
	req := chatRequest{Model: model, Messages: messages, Temperature: temperature}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", resp.Usage, fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, resp.Usage, nil
}

// Embed returns one embedding vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, model string, input []string) ([][]float32, Usage, error) {
	if len(input) == 0 {
		return nil, Usage{}, nil
	}

	req := embeddingRequest{Model: model, Input: input}

	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", req, &resp); err != nil {
		return nil, Usage{}, err
	}
	if len(resp.Data) != len(input) {
		return nil, resp.Usage, fmt.Errorf("embedding returned %d vectors for %d inputs", len(resp.Data), len(input))
	}

	vectors := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(input) {
			return nil, resp.Usage, fmt.Errorf("embedding returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, resp.Usage, nil
}

// EmbedChunked embeds a large input list in batches of batchSize, issuing up
// to four API calls concurrently. Usage is summed across batches. Returns
// nil (not error) for empty input.
func (c *Client) EmbedChunked(ctx context.Context, model string, input []string, batchSize int) ([][]float32, Usage, error) {
	if len(input) == 0 {
		return nil, Usage{}, nil
	}
	if batchSize <= 0 {
		batchSize = 64
	}

	vectors := make([][]float32, len(input))
	usages := make([]Usage, 0, (len(input)+batchSize-1)/batchSize)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid hammering the API.

	var batchStarts []int
	for start := 0; start < len(input); start += batchSize {
		batchStarts = append(batchStarts, start)
		usages = append(usages, Usage{})
	}

	for bi, start := range batchStarts {
		end := min(start+batchSize, len(input))
		g.Go(func() error {
			vecs, usage, err := c.Embed(gCtx, model, input[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch starting at %d: %w", start, err)
			}
			copy(vectors[start:end], vecs)
			usages[bi] = usage
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, Usage{}, err
	}

	var total Usage
	for _, u := range usages {
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.TotalTokens += u.TotalTokens
	}
	return vectors, total, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
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
