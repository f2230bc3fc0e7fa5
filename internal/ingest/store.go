package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/question"
)

const indexFile = "index.json"

var (
	ErrNotFound   = errors.New("document not found")
	ErrValidation = errors.New("invalid document input")
)

// Document is one ingested source, stored as normalized plain text. It
// carries back-references to the questions generated from it.
type Document struct {
	UUID        string               `json:"uuid"`
	Name        string               `json:"name"`
	ContentType string               `json:"content_type"`
	Text        string               `json:"text"`
	Questions   []question.Reference `json:"questions,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Summary is the list view of a document.
type Summary struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Questions int       `json:"questions"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps documents as one JSON file per uuid plus a flat index. It
// doubles as the origin notifier for the document kind: questions attach
// their back-references straight into the document record.
type Store struct {
	dir string

	mu    sync.Mutex
	index []Summary
}

// OpenStore loads (or creates) the document store in dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating documents directory: %w", err)
	}

	s := &Store{dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading document index: %w", err)
		}
		s.index = []Summary{}
		if err := s.saveIndexLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return nil, fmt.Errorf("parsing document index: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) saveIndexLocked() error {
	data, err := json.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("marshalling document index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFile), data, 0o644); err != nil {
		return fmt.Errorf("writing document index: %w", err)
	}
	return nil
}

func (s *Store) writeDocLocked(d *Document) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshalling document %s: %w", d.UUID, err)
	}
	if err := os.WriteFile(s.path(d.UUID), data, 0o644); err != nil {
		return fmt.Errorf("writing document %s: %w", d.UUID, err)
	}
	return nil
}

func (s *Store) readDoc(id string) (Document, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return Document{}, fmt.Errorf("reading document %s: %w", id, err)
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("parsing document %s: %w", id, err)
	}
	return d, nil
}

// Create normalizes and stores raw content as a new document.
func (s *Store) Create(ctx context.Context, name string, content []byte, contentType string) (Document, error) {
	if strings.TrimSpace(name) == "" {
		return Document{}, fmt.Errorf("%w: document name is empty", ErrValidation)
	}

	text, err := Normalize(content, contentType)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Document{}, fmt.Errorf("%w: document has no extractable text", ErrValidation)
	}

	now := time.Now().UTC()
	d := Document{
		UUID:        uuid.NewString(),
		Name:        name,
		ContentType: contentType,
		Text:        text,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeDocLocked(&d); err != nil {
		return Document{}, err
	}
	s.index = append(s.index, Summary{UUID: d.UUID, Name: d.Name, CreatedAt: d.CreatedAt})
	if err := s.saveIndexLocked(); err != nil {
		return Document{}, err
	}
	return d, nil
}

// Read returns the full document.
func (s *Store) Read(ctx context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDoc(id)
}

// List returns document summaries, newest first.
func (s *Store) List(ctx context.Context) []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, len(s.index))
	for i, e := range s.index {
		out[len(s.index)-1-i] = e
	}
	return out
}

// Delete removes a document. Questions generated from it are left in
// place; they carry their own copy of the answer material.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	kept := s.index[:0]
	for _, e := range s.index {
		if e.UUID != id {
			kept = append(kept, e)
		}
	}
	s.index = kept
	return s.saveIndexLocked()
}

// Content returns the document's text for answer generation.
func (s *Store) Content(ctx context.Context, id string) (string, error) {
	d, err := s.Read(ctx, id)
	if err != nil {
		return "", err
	}
	return d.Text, nil
}

// AttachReference and DetachReference make the store the origin notifier
// for the document kind. Detaching tolerates a document that is already
// gone, so question deletes converge.

func (s *Store) AttachReference(ctx context.Context, originUUID string, ref question.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.readDoc(originUUID)
	if err != nil {
		return err
	}
	for _, existing := range d.Questions {
		if existing.UUID == ref.UUID {
			return nil
		}
	}
	d.Questions = append(d.Questions, ref)
	d.UpdatedAt = time.Now().UTC()
	if err := s.writeDocLocked(&d); err != nil {
		return err
	}
	for i := range s.index {
		if s.index[i].UUID == d.UUID {
			s.index[i].Questions = len(d.Questions)
			break
		}
	}
	return s.saveIndexLocked()
}

func (s *Store) DetachReference(ctx context.Context, originUUID string, ref question.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.readDoc(originUUID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	kept := d.Questions[:0]
	for _, existing := range d.Questions {
		if existing.UUID != ref.UUID {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(d.Questions) {
		return nil
	}
	d.Questions = kept
	d.UpdatedAt = time.Now().UTC()
	if err := s.writeDocLocked(&d); err != nil {
		return err
	}
	for i := range s.index {
		if s.index[i].UUID == d.UUID {
			s.index[i].Questions = len(d.Questions)
			break
		}
	}
	return s.saveIndexLocked()
}
