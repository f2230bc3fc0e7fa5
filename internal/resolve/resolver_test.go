package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/kalambet/recall/internal/question"
	"github.com/kalambet/recall/internal/vector"
)

type fakeSearcher struct {
	matches []vector.Match
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, k int) ([]vector.Match, error) {
	if k < len(f.matches) {
		return f.matches[:k], nil
	}
	return f.matches, nil
}

type fakeReader struct {
	records map[string]question.Question
}

func (f *fakeReader) Read(ctx context.Context, uuid string) (question.Question, error) {
	q, ok := f.records[uuid]
	if !ok {
		return question.Question{}, fmt.Errorf("question %s: %w", uuid, question.ErrNotFound)
	}
	return q, nil
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	_, err := New(&fakeSearcher{}, &fakeReader{}, Config{Policy: "nearest"})
	if err == nil {
		t.Fatal("got nil error for unknown policy")
	}
}

func TestNewDefaults(t *testing.T) {
	r, err := New(&fakeSearcher{}, &fakeReader{}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.policy != PolicyTopK {
		t.Errorf("policy = %q, want %q", r.policy, PolicyTopK)
	}
	if r.topK != DefaultTopK {
		t.Errorf("topK = %d, want %d", r.topK, DefaultTopK)
	}
	if r.maxDistance != DefaultMaxDistance {
		t.Errorf("maxDistance = %f, want %f", r.maxDistance, DefaultMaxDistance)
	}
}

func TestCandidatesDropsUnanswered(t *testing.T) {
	searcher := &fakeSearcher{matches: []vector.Match{
		{UUID: "q1", Distance: 0.02},
		{UUID: "q2", Distance: 0.05},
	}}
	reader := &fakeReader{records: map[string]question.Question{
		"q1": {UUID: "q1", Text: "answered", Answer: "yes"},
		"q2": {UUID: "q2", Text: "unanswered"},
	}}

	r, err := New(searcher, reader, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Candidates(context.Background(), []float32{1})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "q1" {
		t.Fatalf("candidates = %+v, want just q1", got)
	}
	if got[0].Name != "answered" || got[0].Text != "yes" {
		t.Errorf("candidate fields = %+v", got[0])
	}
}

func TestCandidatesSkipsMissingRecords(t *testing.T) {
	searcher := &fakeSearcher{matches: []vector.Match{
		{UUID: "gone", Distance: 0.01},
		{UUID: "q1", Distance: 0.03},
	}}
	reader := &fakeReader{records: map[string]question.Question{
		"q1": {UUID: "q1", Text: "present", Answer: "here"},
	}}

	r, err := New(searcher, reader, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Candidates(context.Background(), []float32{1})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "q1" {
		t.Errorf("candidates = %+v, want just q1", got)
	}
}

func TestCandidatesThresholdPolicy(t *testing.T) {
	searcher := &fakeSearcher{matches: []vector.Match{
		{UUID: "near", Distance: 0.1},
		{UUID: "far", Distance: 0.4},
	}}
	reader := &fakeReader{records: map[string]question.Question{
		"near": {UUID: "near", Text: "near", Answer: "a"},
		"far":  {UUID: "far", Text: "far", Answer: "b"},
	}}

	r, err := New(searcher, reader, Config{Policy: PolicyThreshold, MaxDistance: 0.25})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Candidates(context.Background(), []float32{1})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "near" {
		t.Errorf("candidates = %+v, want just near", got)
	}
}

func TestSimilarityScore(t *testing.T) {
	cases := []struct {
		distance float64
		want     int
	}{
		{0, 0},
		{0.02, 2},
		{0.255, 26},
		{1, 100},
		{1.7, 100},
		{-0.1, 0},
	}
	for _, c := range cases {
		if got := similarity(c.distance); got != c.want {
			t.Errorf("similarity(%f) = %d, want %d", c.distance, got, c.want)
		}
	}
}
