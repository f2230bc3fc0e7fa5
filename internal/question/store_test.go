package question

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeIndexer records vector index operations for assertions.
type fakeIndexer struct {
	added   []string
	deleted []string
}

func (f *fakeIndexer) Add(ctx context.Context, uuid string, embedding []float32) error {
	f.added = append(f.added, uuid)
	return nil
}

func (f *fakeIndexer) Delete(ctx context.Context, uuid string) error {
	f.deleted = append(f.deleted, uuid)
	return nil
}

type fakeHooks struct {
	generated []string
	tuned     []string
}

func (f *fakeHooks) GenerateAnswer(ctx context.Context, questionUUID string, target OriginRef) error {
	f.generated = append(f.generated, questionUUID)
	return nil
}

func (f *fakeHooks) FineTune(ctx context.Context, questionUUID string) error {
	f.tuned = append(f.tuned, questionUUID)
	return nil
}

func openTestStore(t *testing.T) (*Store, *fakeIndexer, *FileNotifier) {
	t.Helper()
	dir := t.TempDir()

	notifier, err := NewFileNotifier(dir, OriginMessage)
	if err != nil {
		t.Fatalf("NewFileNotifier: %v", err)
	}
	origins := NewOrigins()
	origins.Register(OriginMessage, notifier)

	vectors := &fakeIndexer{}
	s, err := Open(dir, vectors, origins)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, vectors, notifier
}

func strPtr(s string) *string { return &s }

func TestCreateValidation(t *testing.T) {
	s, _, _ := openTestStore(t)

	_, err := s.Create(context.Background(), Question{Text: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("empty text: got %v, want ErrValidation", err)
	}

	_, err = s.Create(context.Background(), Question{
		Text:   "What is the refund window?",
		Origin: &OriginRef{Kind: "mailbox", UUID: "m1"},
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("unknown origin kind: got %v, want ErrValidation", err)
	}
}

func TestCreateIndexesOnlyAnswered(t *testing.T) {
	s, vectors, _ := openTestStore(t)
	ctx := context.Background()

	unanswered, err := s.Create(ctx, Question{
		Text:      "What is the refund window?",
		Embedding: []float32{0.1, 0.2},
	})
	if err != nil {
		t.Fatalf("Create unanswered: %v", err)
	}
	if len(vectors.added) != 0 {
		t.Errorf("unanswered question was indexed: %v", vectors.added)
	}

	answered, err := s.Create(ctx, Question{
		Text:      "How do I reset my password?",
		Answer:    "Use the reset link on the login page.",
		Embedding: []float32{0.3, 0.4},
	})
	if err != nil {
		t.Fatalf("Create answered: %v", err)
	}
	if len(vectors.added) != 1 || vectors.added[0] != answered.UUID {
		t.Errorf("indexed uuids = %v, want [%s]", vectors.added, answered.UUID)
	}

	if unanswered.UUID == answered.UUID {
		t.Errorf("both creates returned the same uuid %s", unanswered.UUID)
	}
}

func TestCreateNotifiesOrigin(t *testing.T) {
	s, _, notifier := openTestStore(t)

	sum, err := s.Create(context.Background(), Question{
		Text:   "Where is my order?",
		Origin: &OriginRef{Kind: OriginMessage, UUID: "msg-1"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	refs := notifier.References("msg-1")
	if len(refs) != 1 || refs[0].UUID != sum.UUID {
		t.Errorf("origin references = %+v, want one for %s", refs, sum.UUID)
	}
}

func TestUpdateIndexesWhenAnswerArrives(t *testing.T) {
	s, vectors, _ := openTestStore(t)
	ctx := context.Background()

	sum, err := s.Create(ctx, Question{Text: "What payment methods do you accept?"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Answer alone still leaves the question unindexed.
	if _, err := s.Update(ctx, sum.UUID, Patch{Answer: strPtr("Cards and bank transfer.")}); err != nil {
		t.Fatalf("Update answer: %v", err)
	}
	if len(vectors.added) != 0 {
		t.Fatalf("question indexed without embedding: %v", vectors.added)
	}

	if _, err := s.Update(ctx, sum.UUID, Patch{Embedding: []float32{0.5, 0.6}}); err != nil {
		t.Fatalf("Update embedding: %v", err)
	}
	if len(vectors.added) != 1 || vectors.added[0] != sum.UUID {
		t.Errorf("indexed uuids = %v, want [%s]", vectors.added, sum.UUID)
	}

	q, err := s.Read(ctx, sum.UUID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if q.Answer != "Cards and bank transfer." {
		t.Errorf("Answer = %q", q.Answer)
	}
}

func TestUpdateConflict(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()

	sum, err := s.Create(ctx, Question{Text: "Do you ship internationally?"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := sum.UpdatedAt.Add(-time.Second)
	_, err = s.Update(ctx, sum.UUID, Patch{
		Answer:          strPtr("Yes, to most countries."),
		ExpectUpdatedAt: &stale,
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("stale stamp: got %v, want ErrConflict", err)
	}

	// A matching stamp goes through.
	if _, err := s.Update(ctx, sum.UUID, Patch{
		Answer:          strPtr("Yes, to most countries."),
		ExpectUpdatedAt: &sum.UpdatedAt,
	}); err != nil {
		t.Errorf("fresh stamp: %v", err)
	}
}

func TestDeleteConverges(t *testing.T) {
	s, vectors, notifier := openTestStore(t)
	ctx := context.Background()

	sum, err := s.Create(ctx, Question{
		Text:      "Can I change my delivery address?",
		Answer:    "Yes, before the order ships.",
		Embedding: []float32{0.7, 0.8},
		Origin:    &OriginRef{Kind: OriginMessage, UUID: "msg-2"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Delete(ctx, sum.UUID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(vectors.deleted) != 1 || vectors.deleted[0] != sum.UUID {
		t.Errorf("vector deletes = %v, want [%s]", vectors.deleted, sum.UUID)
	}
	if refs := notifier.References("msg-2"); len(refs) != 0 {
		t.Errorf("origin references after delete = %+v, want none", refs)
	}
	if _, err := s.Read(ctx, sum.UUID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after delete: got %v, want ErrNotFound", err)
	}

	// A repeated delete clears remnants instead of failing.
	if err := s.Delete(ctx, sum.UUID); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()

	texts := []string{"first", "second", "third", "fourth", "fifth"}
	for _, text := range texts {
		if _, err := s.Create(ctx, Question{Text: text}); err != nil {
			t.Fatalf("Create %q: %v", text, err)
		}
	}

	page := s.List(0, 2)
	if len(page) != 2 {
		t.Fatalf("got %d summaries, want 2", len(page))
	}
	if page[0].Text != "fifth" || page[1].Text != "fourth" {
		t.Errorf("first page = [%s %s], want [fifth fourth]", page[0].Text, page[1].Text)
	}

	page = s.List(2, 2)
	if len(page) != 1 || page[0].Text != "first" {
		t.Errorf("last page = %+v, want [first]", page)
	}

	if got := s.List(5, 2); len(got) != 0 {
		t.Errorf("out-of-range page = %+v, want empty", got)
	}
}

func TestLinkRunsHooks(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()

	sum, err := s.Create(ctx, Question{Text: "How long does shipping take?"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	hooks := &fakeHooks{}
	target := OriginRef{Kind: OriginMessage, UUID: "msg-3"}
	if err := s.Link(ctx, sum.UUID, []OriginRef{target}, hooks); err != nil {
		t.Fatalf("Link: %v", err)
	}

	if len(hooks.generated) != 1 || hooks.generated[0] != sum.UUID {
		t.Errorf("GenerateAnswer calls = %v, want [%s]", hooks.generated, sum.UUID)
	}
	if len(hooks.tuned) != 1 || hooks.tuned[0] != sum.UUID {
		t.Errorf("FineTune calls = %v, want [%s]", hooks.tuned, sum.UUID)
	}
}

func TestLinkSkipsSettledQuestions(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()

	sum, err := s.Create(ctx, Question{
		Text:     "What is your support email?",
		Answer:   "support@example.com",
		FTMethod: FTShallow,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	hooks := &fakeHooks{}
	target := OriginRef{Kind: OriginMessage, UUID: "msg-4"}
	if err := s.Link(ctx, sum.UUID, []OriginRef{target}, hooks); err != nil {
		t.Fatalf("Link: %v", err)
	}

	if len(hooks.generated) != 0 {
		t.Errorf("GenerateAnswer called for an answered question: %v", hooks.generated)
	}
	if len(hooks.tuned) != 0 {
		t.Errorf("FineTune called for a question with a method: %v", hooks.tuned)
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	origins := NewOrigins()

	s, err := Open(dir, &fakeIndexer{}, origins)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Create(context.Background(), Question{Text: "persisted?"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()

	reopened, err := Open(dir, &fakeIndexer{}, origins)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got := reopened.List(0, 10)
	if len(got) != 1 || got[0].Text != "persisted?" {
		t.Errorf("summaries after reopen = %+v, want the created question", got)
	}
}

func TestTimestampFieldNames(t *testing.T) {
	now := time.Now().UTC()

	for name, v := range map[string]any{
		"question": Question{UUID: "q1", Text: "a?", CreatedAt: now, UpdatedAt: now},
		"summary":  Summary{UUID: "q1", Text: "a?", CreatedAt: now, UpdatedAt: now},
	} {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("%s: marshal: %v", name, err)
		}
		if !strings.Contains(string(data), `"created_at"`) {
			t.Errorf("%s: %s lacks created_at", name, data)
		}
		if !strings.Contains(string(data), `"updated_at"`) {
			t.Errorf("%s: %s lacks updated_at", name, data)
		}
	}
}
