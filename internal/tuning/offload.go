package tuning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/recall/internal/finetune"
	"github.com/kalambet/recall/internal/llm"
)

const eventsFetchLimit = 50

type trainingLine struct {
	Messages []llm.Message `json:"messages"`
}

// Offload ships a preparing batch to the provider: render its questions and
// curriculum into chat-format JSONL, upload the file, create the job. The
// batch becomes read-only the moment a job id lands on it.
func (q *Queue) Offload(ctx context.Context, id string) (Batch, error) {
	q.mu.Lock()
	b, err := q.readBatchLocked(id)
	if err != nil {
		q.mu.Unlock()
		return Batch{}, err
	}
	if b.readOnly() {
		q.mu.Unlock()
		return Batch{}, fmt.Errorf("batch %s: %w", id, ErrBatchReadOnly)
	}
	if _, busy := q.offloading[id]; busy {
		q.mu.Unlock()
		return Batch{}, fmt.Errorf("batch %s: offload in flight: %w", id, ErrBatchReadOnly)
	}
	if b.size() == 0 {
		q.mu.Unlock()
		return Batch{}, fmt.Errorf("%w: batch %s is empty", ErrValidation, id)
	}

	// Claim the batch before releasing the lock. Every mutating path
	// treats a claimed batch as read-only, so its content cannot change
	// between rendering the training file and recording the job.
	q.offloading[id] = struct{}{}
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.offloading, id)
		q.mu.Unlock()
	}()

	jsonl, err := q.renderTrainingData(ctx, &b)
	if err != nil {
		return Batch{}, err
	}

	file, err := q.jobs.UploadFile(ctx, fmt.Sprintf("tuning-%s.jsonl", b.UUID), jsonl)
	if err != nil {
		return Batch{}, fmt.Errorf("uploading training file for batch %s: %w", id, err)
	}
	q.logger.Info("training file uploaded", "batch", id, "file_id", file.ID)

	job, err := q.jobs.CreateJob(ctx, finetune.JobRequest{
		TrainingFile: file.ID,
		Model:        q.cfg.BaseModel,
		Suffix:       q.cfg.Suffix,
		Hyperparameters: &finetune.Hyperparameters{
			NEpochs: q.cfg.Epochs,
		},
	})
	if err != nil {
		return Batch{}, fmt.Errorf("creating fine-tuning job for batch %s: %w", id, err)
	}
	q.logger.Info("fine-tuning job created", "batch", id, "job_id", job.ID, "status", job.Status)

	q.mu.Lock()
	defer q.mu.Unlock()

	b, err = q.readBatchLocked(id)
	if err != nil {
		return Batch{}, err
	}
	b.JobID = job.ID
	b.TrainingFileID = file.ID
	b.Model = q.cfg.BaseModel
	b.Status = jobStatus(job.Status)
	b.UpdatedAt = time.Now().UTC()
	if err := q.writeBatchLocked(&b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// renderTrainingData produces one chat-format JSONL line per queued
// question and per curriculum pair. A queued question that lost its answer
// since enqueue fails the render; shipping it would train the model on an
// empty assistant turn.
func (q *Queue) renderTrainingData(ctx context.Context, b *Batch) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	writeLine := func(questionText, answer string) error {
		line := trainingLine{Messages: []llm.Message{
			{Role: "system", Content: q.cfg.SystemPrompt},
			{Role: "user", Content: questionText},
			{Role: "assistant", Content: answer},
		}}
		return enc.Encode(line)
	}

	for _, questionUUID := range b.QuestionUUIDs {
		rec, err := q.questions.Read(ctx, questionUUID)
		if err != nil {
			return nil, fmt.Errorf("loading queued question %s: %w", questionUUID, err)
		}
		if rec.Answer == "" {
			return nil, fmt.Errorf("%w: queued question %s has no answer", ErrValidation, questionUUID)
		}
		if err := writeLine(rec.Text, rec.Answer); err != nil {
			return nil, fmt.Errorf("encoding training line: %w", err)
		}
	}
	for _, e := range b.Curriculum {
		if err := writeLine(e.Question, e.Answer); err != nil {
			return nil, fmt.Errorf("encoding training line: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// refreshLocked pulls the provider job status into the batch. Terminal
// batches fetch their event log once and serve the cached copy afterwards,
// so a finished batch stops generating provider traffic.
func (q *Queue) refreshLocked(ctx context.Context, b *Batch) error {
	if b.JobID == "" {
		return nil
	}
	if Terminal(b.Status) && b.EventsCached {
		return nil
	}

	changed := false

	if !Terminal(b.Status) {
		job, err := q.jobs.GetJob(ctx, b.JobID)
		if err != nil {
			return fmt.Errorf("refreshing job %s: %w", b.JobID, err)
		}
		if status := jobStatus(job.Status); status != b.Status {
			q.logger.Info("batch status changed", "batch", b.UUID, "from", b.Status, "to", status)
			b.Status = status
			changed = true
		}
		if job.FineTunedModel != "" && job.FineTunedModel != b.FineTunedModel {
			b.FineTunedModel = job.FineTunedModel
			changed = true
		}
	}

	if Terminal(b.Status) && !b.EventsCached {
		events, err := q.jobs.ListEvents(ctx, b.JobID, eventsFetchLimit)
		if err != nil {
			return fmt.Errorf("fetching events for job %s: %w", b.JobID, err)
		}
		b.Events = events
		b.EventsCached = true
		changed = true
	}

	if changed {
		b.UpdatedAt = time.Now().UTC()
		return q.writeBatchLocked(b)
	}
	return nil
}

// Events returns the batch's provider event log, refreshing first so a
// just-finished job picks up its final events.
func (q *Queue) Events(ctx context.Context, id string) ([]finetune.Event, error) {
	b, err := q.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.JobID == "" {
		return nil, fmt.Errorf("%w: batch %s has no fine-tuning job", ErrValidation, id)
	}
	if b.EventsCached {
		return b.Events, nil
	}
	events, err := q.jobs.ListEvents(ctx, b.JobID, eventsFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching events for job %s: %w", b.JobID, err)
	}
	return events, nil
}

// jobStatus maps a provider job status onto the batch lifecycle. Unknown
// provider statuses pass through untouched so new lifecycle states degrade
// to visibility rather than errors.
func jobStatus(s string) string {
	switch s {
	case "validating_files":
		return StatusValidating
	case "queued":
		return StatusQueued
	case "running":
		return StatusRunning
	case "succeeded":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	}
	return s
}
