package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/recall/internal/question"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.Create(ctx, "faq.html", []byte("<p>Refunds within 30 days.</p>"), "text/html")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.Text != "Refunds within 30 days." {
		t.Errorf("Text = %q", d.Text)
	}

	got, err := s.Read(ctx, d.UUID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Name != "faq.html" || got.ContentType != "text/html" {
		t.Errorf("document = %+v", got)
	}

	text, err := s.Content(ctx, d.UUID)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if text != d.Text {
		t.Errorf("Content = %q, want %q", text, d.Text)
	}
}

func TestCreateValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "  ", []byte("text"), "text/plain"); !errors.Is(err, ErrValidation) {
		t.Errorf("empty name: got %v, want ErrValidation", err)
	}
	if _, err := s.Create(ctx, "empty.html", []byte("<style>a{}</style>"), "text/html"); !errors.Is(err, ErrValidation) {
		t.Errorf("no extractable text: got %v, want ErrValidation", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first.txt", "second.txt"} {
		if _, err := s.Create(ctx, name, []byte("body"), "text/plain"); err != nil {
			t.Fatalf("Create %q: %v", name, err)
		}
	}

	got := s.List(ctx)
	if len(got) != 2 {
		t.Fatalf("got %d summaries, want 2", len(got))
	}
	if got[0].Name != "second.txt" || got[1].Name != "first.txt" {
		t.Errorf("order = [%s %s], want newest first", got[0].Name, got[1].Name)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.Create(ctx, "doc.txt", []byte("body"), "text/plain")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, d.UUID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read(ctx, d.UUID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after delete: got %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, d.UUID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: got %v, want ErrNotFound", err)
	}
}

func TestReferenceLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.Create(ctx, "doc.txt", []byte("body"), "text/plain")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ref := question.Reference{UUID: "q1", Text: "How to request a refund?"}
	if err := s.AttachReference(ctx, d.UUID, ref); err != nil {
		t.Fatalf("AttachReference: %v", err)
	}
	if err := s.AttachReference(ctx, d.UUID, ref); err != nil {
		t.Fatalf("repeat AttachReference: %v", err)
	}

	got, err := s.Read(ctx, d.UUID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Questions) != 1 {
		t.Fatalf("got %d references, want 1 after dedupe", len(got.Questions))
	}
	if list := s.List(ctx); list[0].Questions != 1 {
		t.Errorf("summary question count = %d, want 1", list[0].Questions)
	}

	if err := s.DetachReference(ctx, d.UUID, ref); err != nil {
		t.Fatalf("DetachReference: %v", err)
	}
	got, err = s.Read(ctx, d.UUID)
	if err != nil {
		t.Fatalf("Read after detach: %v", err)
	}
	if len(got.Questions) != 0 {
		t.Errorf("got %d references after detach, want 0", len(got.Questions))
	}

	// Detaching from a deleted document is a no-op.
	if err := s.Delete(ctx, d.UUID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.DetachReference(ctx, d.UUID, ref); err != nil {
		t.Errorf("DetachReference after delete: %v", err)
	}
}
