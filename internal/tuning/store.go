package tuning

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

	"github.com/kalambet/recall/internal/finetune"
	"github.com/kalambet/recall/internal/question"
)

const indexFile = "index.json"

// QuestionSource is the slice of the question store the queue needs: read
// queued questions when building training data, and mark or unmark their
// batch membership.
type QuestionSource interface {
	Read(ctx context.Context, uuid string) (question.Question, error)
	Update(ctx context.Context, uuid string, patch question.Patch) (question.Summary, error)
}

// JobAPI is the provider's fine-tuning surface.
type JobAPI interface {
	UploadFile(ctx context.Context, filename string, jsonl []byte) (finetune.File, error)
	CreateJob(ctx context.Context, req finetune.JobRequest) (finetune.Job, error)
	GetJob(ctx context.Context, id string) (finetune.Job, error)
	ListEvents(ctx context.Context, id string, limit int) ([]finetune.Event, error)
}

// Config fixes the batch capacity and the job parameters used at offload.
type Config struct {
	BatchSize    int
	BaseModel    string
	Epochs       int
	Suffix       string
	SystemPrompt string
}

// Queue stores fine-tuning batches as one JSON file per batch plus a flat
// summary index, and fills them with a simple capacity policy: enqueue into
// the newest preparing batch with room, or open a fresh one.
type Queue struct {
	dir       string
	questions QuestionSource
	jobs      JobAPI
	cfg       Config
	logger    *slog.Logger

	mu    sync.Mutex
	index []Summary
	// offloading marks batches whose training file is in flight to the
	// provider. They are read-only until the offload settles.
	offloading map[string]struct{}
}

// Open loads (or creates) the batch queue in dir.
func Open(dir string, questions QuestionSource, jobs JobAPI, cfg Config) (*Queue, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 3
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tuning directory: %w", err)
	}

	q := &Queue{
		dir:        dir,
		questions:  questions,
		jobs:       jobs,
		cfg:        cfg,
		logger:     slog.Default(),
		offloading: make(map[string]struct{}),
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading batch index: %w", err)
		}
		q.index = []Summary{}
		if err := q.saveIndexLocked(); err != nil {
			return nil, err
		}
		return q, nil
	}
	if err := json.Unmarshal(data, &q.index); err != nil {
		return nil, fmt.Errorf("parsing batch index: %w", err)
	}
	return q, nil
}

func (q *Queue) Close() error {
	return nil
}

func (q *Queue) path(id string) string {
	return filepath.Join(q.dir, id+".json")
}

func (q *Queue) saveIndexLocked() error {
	data, err := json.Marshal(q.index)
	if err != nil {
		return fmt.Errorf("marshalling batch index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(q.dir, indexFile), data, 0o644); err != nil {
		return fmt.Errorf("writing batch index: %w", err)
	}
	return nil
}

func (q *Queue) writeBatchLocked(b *Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshalling batch %s: %w", b.UUID, err)
	}
	if err := os.WriteFile(q.path(b.UUID), data, 0o644); err != nil {
		return fmt.Errorf("writing batch %s: %w", b.UUID, err)
	}
	for i := range q.index {
		if q.index[i].UUID == b.UUID {
			q.index[i].Status = b.Status
			q.index[i].Queued = b.size()
			q.index[i].UpdatedAt = b.UpdatedAt
			return q.saveIndexLocked()
		}
	}
	q.index = append(q.index, Summary{
		UUID:      b.UUID,
		Status:    b.Status,
		Queued:    b.size(),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	})
	return q.saveIndexLocked()
}

func (q *Queue) readBatchLocked(id string) (Batch, error) {
	data, err := os.ReadFile(q.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Batch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return Batch{}, fmt.Errorf("reading batch %s: %w", id, err)
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("parsing batch %s: %w", id, err)
	}
	return b, nil
}

func (q *Queue) newBatchLocked() (Batch, error) {
	now := time.Now().UTC()
	b := Batch{
		UUID:      uuid.NewString(),
		Status:    StatusPreparing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeBatchLocked(&b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Create opens a fresh empty batch.
func (q *Queue) Create(ctx context.Context) (Summary, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, err := q.newBatchLocked()
	if err != nil {
		return Summary{}, err
	}
	return Summary{UUID: b.UUID, Status: b.Status, CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt}, nil
}

// Read returns one batch, refreshing its provider status first when a job
// is attached.
func (q *Queue) Read(ctx context.Context, id string) (Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, err := q.readBatchLocked(id)
	if err != nil {
		return Batch{}, err
	}
	if err := q.refreshLocked(ctx, &b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// List returns all batch summaries, newest first, refreshing any batch
// whose provider job is still in flight.
func (q *Queue) List(ctx context.Context) ([]Summary, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.index {
		e := q.index[i]
		if e.Status == StatusPreparing || Terminal(e.Status) {
			continue
		}
		b, err := q.readBatchLocked(e.UUID)
		if err != nil {
			return nil, err
		}
		if err := q.refreshLocked(ctx, &b); err != nil {
			q.logger.Warn("batch status refresh failed", "uuid", e.UUID, "error", err)
		}
	}

	out := make([]Summary, len(q.index))
	for i, e := range q.index {
		out[len(q.index)-1-i] = e
	}
	return out, nil
}

// Enqueue adds an answered question to the open batch and marks the
// question with its batch. A full or offloaded open batch rolls over to a
// fresh one, so enqueue never fails on capacity.
func (q *Queue) Enqueue(ctx context.Context, questionUUID string) (string, error) {
	rec, err := q.questions.Read(ctx, questionUUID)
	if err != nil {
		return "", err
	}
	if rec.Answer == "" {
		return "", fmt.Errorf("%w: question %s has no answer", ErrValidation, questionUUID)
	}

	q.mu.Lock()

	b, err := q.openBatchLocked()
	if err != nil {
		q.mu.Unlock()
		return "", err
	}

	for _, existing := range b.QuestionUUIDs {
		if existing == questionUUID {
			q.mu.Unlock()
			return b.UUID, nil
		}
	}

	b.QuestionUUIDs = append(b.QuestionUUIDs, questionUUID)
	b.UpdatedAt = time.Now().UTC()
	if err := q.writeBatchLocked(&b); err != nil {
		q.mu.Unlock()
		return "", err
	}
	q.mu.Unlock()

	batchUUID := b.UUID
	if _, err := q.questions.Update(ctx, questionUUID, question.Patch{FTBatchUUID: &batchUUID}); err != nil {
		return "", fmt.Errorf("marking question batch: %w", err)
	}
	return batchUUID, nil
}

// openBatchLocked returns the newest batch when it is still preparing with
// room, or creates a fresh one. Batches fill monotonically; an older batch
// superseded by a newer one is never refilled, no matter how empty it is.
func (q *Queue) openBatchLocked() (Batch, error) {
	if n := len(q.index); n > 0 {
		e := q.index[n-1]
		_, busy := q.offloading[e.UUID]
		if e.Status == StatusPreparing && e.Queued < q.cfg.BatchSize && !busy {
			return q.readBatchLocked(e.UUID)
		}
	}
	return q.newBatchLocked()
}

// AddCurriculum appends inline training pairs to a preparing batch.
func (q *Queue) AddCurriculum(ctx context.Context, id string, examples []Example) (Batch, error) {
	for _, e := range examples {
		if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
			return Batch{}, fmt.Errorf("%w: curriculum pair needs both question and answer", ErrValidation)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	b, err := q.readBatchLocked(id)
	if err != nil {
		return Batch{}, err
	}
	if b.readOnly() {
		return Batch{}, fmt.Errorf("batch %s: %w", id, ErrBatchReadOnly)
	}
	if _, busy := q.offloading[id]; busy {
		return Batch{}, fmt.Errorf("batch %s: offload in flight: %w", id, ErrBatchReadOnly)
	}
	if b.size()+len(examples) > q.cfg.BatchSize {
		return Batch{}, fmt.Errorf("batch %s holds %d of %d: %w", id, b.size(), q.cfg.BatchSize, ErrBatchFull)
	}

	b.Curriculum = append(b.Curriculum, examples...)
	b.UpdatedAt = time.Now().UTC()
	if err := q.writeBatchLocked(&b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// ImportCurriculum parses JSONL content, one {"question","answer"} object
// per line, and appends the pairs to the batch. Blank lines are skipped.
func (q *Queue) ImportCurriculum(ctx context.Context, id string, jsonl []byte) (Batch, error) {
	var examples []Example
	for lineNo, line := range strings.Split(string(jsonl), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e Example
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return Batch{}, fmt.Errorf("%w: line %d: %v", ErrValidation, lineNo+1, err)
		}
		examples = append(examples, e)
	}
	if len(examples) == 0 {
		return Batch{}, fmt.Errorf("%w: no curriculum pairs in import", ErrValidation)
	}
	return q.AddCurriculum(ctx, id, examples)
}

// Delete removes a batch. Questions queued in it are detached from the
// batch but kept, falling back to shallow linkage. When keepCurriculum is
// set and the batch never shipped,
// its inline pairs are re-homed into the open batch instead of being lost.
func (q *Queue) Delete(ctx context.Context, id string, keepCurriculum bool) error {
	q.mu.Lock()

	b, err := q.readBatchLocked(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	if _, busy := q.offloading[id]; busy {
		q.mu.Unlock()
		return fmt.Errorf("batch %s: offload in flight: %w", id, ErrBatchReadOnly)
	}

	if keepCurriculum && !b.readOnly() && len(b.Curriculum) > 0 {
		dest, err := q.openBatchLocked()
		if err != nil {
			q.mu.Unlock()
			return err
		}
		// The doomed batch may itself be the open one; re-home into a
		// fresh batch then.
		if dest.UUID == b.UUID {
			dest, err = q.newBatchLocked()
			if err != nil {
				q.mu.Unlock()
				return err
			}
		}
		dest.Curriculum = append(dest.Curriculum, b.Curriculum...)
		dest.UpdatedAt = time.Now().UTC()
		if err := q.writeBatchLocked(&dest); err != nil {
			q.mu.Unlock()
			return err
		}
	}

	if err := os.Remove(q.path(id)); err != nil && !os.IsNotExist(err) {
		q.mu.Unlock()
		return fmt.Errorf("deleting batch %s: %w", id, err)
	}
	kept := q.index[:0]
	for _, e := range q.index {
		if e.UUID != id {
			kept = append(kept, e)
		}
	}
	q.index = kept
	if err := q.saveIndexLocked(); err != nil {
		q.mu.Unlock()
		return err
	}
	q.mu.Unlock()

	empty := ""
	shallow := question.FTShallow
	for _, questionUUID := range b.QuestionUUIDs {
		patch := question.Patch{FTBatchUUID: &empty, FTMethod: &shallow}
		if _, err := q.questions.Update(ctx, questionUUID, patch); err != nil {
			q.logger.Warn("detaching question from deleted batch failed",
				"batch", id, "question", questionUUID, "error", err)
		}
	}
	return nil
}
