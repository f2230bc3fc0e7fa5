// Package tuning queues answered questions into fine-tuning batches and
// drives the batches through the provider's job lifecycle.
package tuning

import (
	"errors"
	"time"

	"github.com/kalambet/recall/internal/finetune"
)

// Batch statuses. StatusPreparing is the only local state; the rest mirror
// the provider's job lifecycle once a batch is offloaded.
const (
	StatusPreparing  = "preparing"
	StatusValidating = "validating_files"
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Terminal reports whether a status can no longer change.
func Terminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var (
	ErrNotFound      = errors.New("batch not found")
	ErrValidation    = errors.New("invalid batch input")
	ErrBatchReadOnly = errors.New("batch already offloaded")
	ErrBatchFull     = errors.New("batch is full")
)

// Example is one inline training pair carried by a batch alongside its
// queued questions.
type Example struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Batch is one fine-tuning batch. While preparing it accumulates question
// uuids and curriculum examples; once a provider job exists the batch is
// read-only and only its status and events move.
type Batch struct {
	UUID           string           `json:"uuid"`
	Status         string           `json:"status"`
	QuestionUUIDs  []string         `json:"question_uuids"`
	Curriculum     []Example        `json:"curriculum,omitempty"`
	Model          string           `json:"model,omitempty"`
	JobID          string           `json:"fine_tuning_job_id,omitempty"`
	TrainingFileID string           `json:"training_file_id,omitempty"`
	FineTunedModel string           `json:"fine_tuned_model,omitempty"`
	Events         []finetune.Event `json:"events,omitempty"`
	EventsCached   bool             `json:"events_cached,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// readOnly reports whether the batch content can still be changed.
func (b *Batch) readOnly() bool {
	return b.JobID != ""
}

// size counts everything the batch would train on.
func (b *Batch) size() int {
	return len(b.QuestionUUIDs) + len(b.Curriculum)
}

// Summary is the list view of a batch.
type Summary struct {
	UUID      string    `json:"uuid"`
	Status    string    `json:"status"`
	Queued    int       `json:"queued"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
