package question

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const indexFile = "index.json"

// VectorIndexer is the subset of the vector index the store drives. The
// store owns the indexing invariant: a question is added exactly when it
// gains both an embedding and a non-empty answer, and removed on delete.
type VectorIndexer interface {
	Add(ctx context.Context, uuid string, embedding []float32) error
	Delete(ctx context.Context, uuid string) error
}

// LinkHooks supplies the two follow-up actions Link may trigger for a
// target: generating an answer from the target's material, and running
// fine-tune linkage for a question that has no method yet.
type LinkHooks interface {
	GenerateAnswer(ctx context.Context, questionUUID string, target OriginRef) error
	FineTune(ctx context.Context, questionUUID string) error
}

// Store owns Question records: one JSON file per uuid plus a flat summary
// index, both under dir. The summary index is loaded once and cached for
// the life of the store, and rewritten wholesale on every change. The
// design assumes a single writer process.
//
// All mutations of the same uuid are serialized through a per-uuid lock, so
// concurrent read-modify-write cycles cannot silently drop each other's
// writes.
type Store struct {
	dir     string
	vectors VectorIndexer
	origins *Origins
	logger  *slog.Logger

	mu    sync.Mutex
	index []Summary
	locks map[string]*sync.Mutex
}

// Open loads (or creates) the question store in dir.
func Open(dir string, vectors VectorIndexer, origins *Origins) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating questions directory: %w", err)
	}

	s := &Store{
		dir:     dir,
		vectors: vectors,
		origins: origins,
		logger:  slog.Default(),
		locks:   make(map[string]*sync.Mutex),
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading question index: %w", err)
		}
		s.index = []Summary{}
		if err := s.saveIndexLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return nil, fmt.Errorf("parsing question index: %w", err)
	}
	return s, nil
}

// Close releases the store. File state is flushed on every mutation, so
// Close exists for lifecycle symmetry with the other stores.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// lockFor returns the mutex serializing writes to the given uuid.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// saveIndexLocked rewrites the whole index file. Callers hold s.mu, or are
// in single-threaded setup paths.
func (s *Store) saveIndexLocked() error {
	data, err := json.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("marshalling question index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFile), data, 0o644); err != nil {
		return fmt.Errorf("writing question index: %w", err)
	}
	return nil
}

func (s *Store) writeRecord(q *Question) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshalling question %s: %w", q.UUID, err)
	}
	if err := os.WriteFile(s.path(q.UUID), data, 0o644); err != nil {
		return fmt.Errorf("writing question %s: %w", q.UUID, err)
	}
	return nil
}

func (s *Store) readRecord(id string) (Question, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Question{}, fmt.Errorf("question %s: %w", id, ErrNotFound)
		}
		return Question{}, fmt.Errorf("reading question %s: %w", id, err)
	}
	var q Question
	if err := json.Unmarshal(data, &q); err != nil {
		return Question{}, fmt.Errorf("parsing question %s: %w", id, err)
	}
	return q, nil
}

// Create persists a new question and returns its summary. When the record
// arrives with both an embedding and an answer it is added to the vector
// index; when it carries an origin, the origin is notified so it can keep a
// back-reference.
func (s *Store) Create(ctx context.Context, q Question) (Summary, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Summary{}, fmt.Errorf("%w: question text is empty", ErrValidation)
	}
	if q.Origin != nil && !q.Origin.Kind.Valid() {
		return Summary{}, fmt.Errorf("%w: unknown origin kind %q", ErrValidation, q.Origin.Kind)
	}

	q.UUID = uuid.NewString()
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now

	if err := s.writeRecord(&q); err != nil {
		return Summary{}, err
	}

	// Index only questions that already have an answer; unanswered questions
	// are stored but never searchable.
	if q.indexable() {
		if err := s.vectors.Add(ctx, q.UUID, q.Embedding); err != nil {
			return Summary{}, fmt.Errorf("indexing question %s: %w", q.UUID, err)
		}
	}

	if q.Origin != nil {
		if err := s.origins.Attach(ctx, *q.Origin, Reference{UUID: q.UUID, Text: q.Text}); err != nil {
			return Summary{}, err
		}
	}

	summary := Summary{UUID: q.UUID, Text: q.Text, CreatedAt: q.CreatedAt, UpdatedAt: q.UpdatedAt}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = append(s.index, summary)
	if err := s.saveIndexLocked(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Read returns the full stored record.
func (s *Store) Read(ctx context.Context, id string) (Question, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return s.readRecord(id)
}

// Update applies the patch under the uuid's write lock and returns the
// refreshed summary. A question that gains both an embedding and an answer
// through the patch is added to the vector index.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Summary, error) {
	if patch.Text != nil && strings.TrimSpace(*patch.Text) == "" {
		return Summary{}, fmt.Errorf("%w: question text is empty", ErrValidation)
	}
	if patch.FTMethod != nil && !patch.FTMethod.Valid() {
		return Summary{}, fmt.Errorf("%w: unknown ft_method %q", ErrValidation, *patch.FTMethod)
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	q, err := s.readRecord(id)
	if err != nil {
		return Summary{}, err
	}

	if patch.ExpectUpdatedAt != nil && !patch.ExpectUpdatedAt.Equal(q.UpdatedAt) {
		return Summary{}, fmt.Errorf("question %s: %w", id, ErrConflict)
	}

	wasIndexable := q.indexable()
	patch.apply(&q)
	q.UpdatedAt = time.Now().UTC()

	if err := s.writeRecord(&q); err != nil {
		return Summary{}, err
	}

	if !wasIndexable && q.indexable() {
		if err := s.vectors.Add(ctx, q.UUID, q.Embedding); err != nil {
			return Summary{}, fmt.Errorf("indexing question %s: %w", q.UUID, err)
		}
	}

	summary := Summary{UUID: q.UUID, Text: q.Text, CreatedAt: q.CreatedAt, UpdatedAt: q.UpdatedAt}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.index {
		if s.index[i].UUID == id {
			s.index[i].Text = q.Text
			s.index[i].UpdatedAt = q.UpdatedAt
			break
		}
	}
	if err := s.saveIndexLocked(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Delete removes a question in three explicit steps: detach the origin
// back-reference, remove the vector index entry, delete the record file.
// The sequence is not atomic; each step is logged and tolerates already-gone
// state, so a retried delete converges to the fully-deleted record.
func (s *Store) Delete(ctx context.Context, id string) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	q, err := s.readRecord(id)
	if err != nil {
		// Record file already gone: converge by clearing the remaining traces.
		s.logger.Info("delete: record file missing, clearing remnants", "uuid", id)
		if verr := s.vectors.Delete(ctx, id); verr != nil {
			return fmt.Errorf("removing question %s from vector index: %w", id, verr)
		}
		s.dropIndexEntry(id)
		return nil
	}

	if q.Origin != nil {
		s.logger.Info("delete: detaching origin reference", "uuid", id, "origin", q.Origin.String())
		if err := s.origins.Detach(ctx, *q.Origin, Reference{UUID: q.UUID, Text: q.Text}); err != nil {
			return err
		}
	}

	if len(q.Embedding) > 0 {
		s.logger.Info("delete: removing vector index entry", "uuid", id)
		if err := s.vectors.Delete(ctx, id); err != nil {
			return fmt.Errorf("removing question %s from vector index: %w", id, err)
		}
	}

	s.logger.Info("delete: removing record file", "uuid", id)
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting question %s: %w", id, err)
	}

	s.dropIndexEntry(id)
	return nil
}

func (s *Store) dropIndexEntry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.index[:0]
	for _, e := range s.index {
		if e.UUID != id {
			kept = append(kept, e)
		}
	}
	s.index = kept
	if err := s.saveIndexLocked(); err != nil {
		s.logger.Error("delete: rewriting question index failed", "uuid", id, "error", err)
	}
}

// List returns a page of summaries, newest first.
func (s *Store) List(page, limit int) []Summary {
	if page < 0 {
		page = 0
	}
	if limit <= 0 {
		limit = 500
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first: walk the append-ordered index backwards.
	reversed := make([]Summary, len(s.index))
	for i, e := range s.index {
		reversed[len(s.index)-1-i] = e
	}

	start := page * limit
	if start >= len(reversed) {
		return []Summary{}
	}
	end := min(start+limit, len(reversed))
	return reversed[start:end]
}

// Attach adds a back-reference for an existing question at one more origin.
// The question's own Origin field is unchanged: it keeps pointing at the
// object that created it.
func (s *Store) Attach(ctx context.Context, id string, target OriginRef) error {
	if !target.Kind.Valid() {
		return fmt.Errorf("%w: unknown origin kind %q", ErrValidation, target.Kind)
	}

	q, err := s.Read(ctx, id)
	if err != nil {
		return err
	}
	return s.origins.Attach(ctx, target, Reference{UUID: q.UUID, Text: q.Text})
}

// Link attaches the question to each target and runs the follow-ups: answer
// generation for a question that has none, fine-tune linkage for a question
// with no method yet. hooks may be nil, in which case only the references
// are attached.
func (s *Store) Link(ctx context.Context, id string, targets []OriginRef, hooks LinkHooks) error {
	for _, target := range targets {
		if err := s.Attach(ctx, id, target); err != nil {
			return err
		}

		if hooks == nil {
			continue
		}

		q, err := s.Read(ctx, id)
		if err != nil {
			return err
		}
		if q.Answer == "" {
			if err := hooks.GenerateAnswer(ctx, id, target); err != nil {
				return fmt.Errorf("generating answer for %s from %s: %w", id, target, err)
			}
		}
	}

	if hooks == nil {
		return nil
	}

	q, err := s.Read(ctx, id)
	if err != nil {
		return err
	}
	if q.FTMethod == FTNone {
		if err := hooks.FineTune(ctx, id); err != nil {
			return fmt.Errorf("fine-tune linkage for %s: %w", id, err)
		}
	}
	return nil
}
