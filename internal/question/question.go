package question

import (
	"time"

	"github.com/kalambet/recall/internal/llm"
)

// FTMethod describes how a question participates in model improvement.
type FTMethod string

const (
	// FTNone means the question has not been through fine-tune linkage yet.
	FTNone FTMethod = ""
	// FTShallow means the question is indexed in the vector index only.
	FTShallow FTMethod = "shallow"
	// FTDeep means the question is also queued for fine-tuning.
	FTDeep FTMethod = "deep"
)

// Valid reports whether m is a known method value.
func (m FTMethod) Valid() bool {
	switch m {
	case FTNone, FTShallow, FTDeep:
		return true
	}
	return false
}

// Question is the atomic knowledge unit: a question text with an optional
// answer and an optional embedding vector.
//
// An empty Answer means "indexed but unanswered"; a nil Embedding means
// "not yet indexed". A question is present in the vector index if and only
// if it has both a non-nil embedding and a non-empty answer.
type Question struct {
	UUID             string      `json:"uuid"`
	Text             string      `json:"text"`
	Answer           string      `json:"answer,omitempty"`
	Embedding        []float32   `json:"embedding,omitempty"`
	Origin           *OriginRef  `json:"origin,omitempty"`
	Usage            []llm.Usage `json:"usage,omitempty"`
	FTMethod         FTMethod    `json:"ft_method,omitempty"`
	FTBatchUUID      string      `json:"ft_batch_uuid,omitempty"`
	SimilarQuestions []string    `json:"similar_questions,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// indexable reports whether the question belongs in the vector index.
func (q *Question) indexable() bool {
	return len(q.Embedding) > 0 && q.Answer != ""
}

// Summary is the flat index entry kept for listings.
type Summary struct {
	UUID      string    `json:"uuid"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Patch is an explicit, typed update. Nil pointer fields are left unchanged;
// AppendUsage entries are appended, never merged or overwritten. This
// replaces the original's free-form JSON merge so no field can be lost by
// accident.
type Patch struct {
	Text             *string
	Answer           *string
	Embedding        []float32 // replace-only; nil leaves the stored vector
	FTMethod         *FTMethod
	FTBatchUUID      *string
	SimilarQuestions []string
	AppendUsage      []llm.Usage

	// ExpectUpdatedAt enables optimistic concurrency: when set, the update
	// fails with ErrConflict unless the stored record still carries this
	// timestamp.
	ExpectUpdatedAt *time.Time
}

func (p Patch) apply(q *Question) {
	if p.Text != nil {
		q.Text = *p.Text
	}
	if p.Answer != nil {
		q.Answer = *p.Answer
	}
	if p.Embedding != nil {
		q.Embedding = p.Embedding
	}
	if p.FTMethod != nil {
		q.FTMethod = *p.FTMethod
	}
	if p.FTBatchUUID != nil {
		q.FTBatchUUID = *p.FTBatchUUID
	}
	if p.SimilarQuestions != nil {
		q.SimilarQuestions = p.SimilarQuestions
	}
	q.Usage = append(q.Usage, p.AppendUsage...)
}
