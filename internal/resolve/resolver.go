// Package resolve turns a vector search over stored questions into a short
// list of answer candidates fit to hand to a model or a user.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/kalambet/recall/internal/question"
	"github.com/kalambet/recall/internal/vector"
)

// Candidate selection policies. TopK keeps the best k neighbors whatever
// their distance; Threshold keeps every neighbor within a distance cutoff.
const (
	PolicyTopK      = "top_k"
	PolicyThreshold = "threshold"
)

const (
	DefaultTopK        = 5
	DefaultMaxDistance = 0.25
)

// Searcher is the vector index lookup the resolver needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, k int) ([]vector.Match, error)
}

// QuestionReader loads full question records for matched uuids.
type QuestionReader interface {
	Read(ctx context.Context, uuid string) (question.Question, error)
}

// Candidate is one resolved answer candidate. Similarity is a coarse
// 0-100 score derived from vector distance; lower means closer.
type Candidate struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Text       string `json:"text"`
	Similarity int    `json:"similarity"`
}

// Resolver maps an embedded query to answer candidates.
type Resolver struct {
	searcher  Searcher
	questions QuestionReader
	logger    *slog.Logger

	policy      string
	topK        int
	maxDistance float64
}

// Config selects the candidate policy. Zero values fall back to the
// defaults: top-k with k=5, threshold cutoff 0.25.
type Config struct {
	Policy      string
	TopK        int
	MaxDistance float64
}

func New(searcher Searcher, questions QuestionReader, cfg Config) (*Resolver, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicyTopK
	}
	if cfg.Policy != PolicyTopK && cfg.Policy != PolicyThreshold {
		return nil, fmt.Errorf("unknown candidate policy %q", cfg.Policy)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = DefaultMaxDistance
	}
	return &Resolver{
		searcher:    searcher,
		questions:   questions,
		logger:      slog.Default(),
		policy:      cfg.Policy,
		topK:        cfg.TopK,
		maxDistance: cfg.MaxDistance,
	}, nil
}

// Candidates searches the index with the query embedding and loads the
// matched questions. Matches whose record has vanished are skipped with a
// warning; matches without an answer are dropped silently, since an
// unanswered question has nothing to offer. The result keeps the index's
// ascending-distance order and may be empty.
func (r *Resolver) Candidates(ctx context.Context, embedding []float32) ([]Candidate, error) {
	matches, err := r.searcher.Search(ctx, embedding, r.topK)
	if err != nil {
		return nil, fmt.Errorf("searching candidates: %w", err)
	}

	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		if r.policy == PolicyThreshold && float64(m.Distance) > r.maxDistance {
			continue
		}

		q, err := r.questions.Read(ctx, m.UUID)
		if err != nil {
			if errors.Is(err, question.ErrNotFound) {
				r.logger.Warn("candidate record missing, skipping", "uuid", m.UUID)
				continue
			}
			return nil, err
		}
		if q.Answer == "" {
			continue
		}

		candidates = append(candidates, Candidate{
			UUID:       q.UUID,
			Name:       q.Text,
			Text:       q.Answer,
			Similarity: similarity(float64(m.Distance)),
		})
	}
	return candidates, nil
}

// similarity converts a cosine distance into the coarse score carried on
// candidates: distance scaled to percent and clamped to [0, 100].
func similarity(distance float64) int {
	s := int(math.Round(distance * 100))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
