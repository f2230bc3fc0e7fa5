package llm

import "fmt"

// Message is a single chat message in the OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage records the token cost of one API call. Purpose is filled in by the
// caller so cost entries can be attributed to the pipeline that spent them
// (e.g. "Document2Questions", "Embedding").
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Purpose          string `json:"purpose,omitempty"`
}

// WithPurpose returns a copy of the usage record tagged with the given purpose.
func (u Usage) WithPurpose(purpose string) Usage {
	u.Purpose = purpose
	return u
}

// APIError is a structured error returned by the remote API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm api error (HTTP %d, %s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("llm api error (HTTP %d)", e.Status)
}

// chatRequest is the JSON body for POST /chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// chatResponse mirrors the fields of the completion response we consume.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// embeddingRequest is the JSON body for POST /embeddings.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage Usage `json:"usage"`
}

// errorResponse is the error envelope returned by the API on non-2xx status.
type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
