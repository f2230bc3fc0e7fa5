package finetune

import "fmt"

// File is the handle returned after uploading training data.
type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Bytes    int64  `json:"bytes"`
}

// Hyperparameters controls the training run.
type Hyperparameters struct {
	NEpochs int `json:"n_epochs,omitempty"`
}

// JobRequest is the JSON body for creating a fine-tuning job.
type JobRequest struct {
	TrainingFile    string           `json:"training_file"`
	Model           string           `json:"model"`
	Suffix          string           `json:"suffix,omitempty"`
	Hyperparameters *Hyperparameters `json:"hyperparameters,omitempty"`
}

// Job is the state of a fine-tuning job as reported by the API.
type Job struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	Model          string    `json:"model"`
	FineTunedModel string    `json:"fine_tuned_model,omitempty"`
	TrainingFile   string    `json:"training_file"`
	CreatedAt      int64     `json:"created_at"`
	FinishedAt     int64     `json:"finished_at,omitempty"`
	Error          *JobError `json:"error,omitempty"`
}

// JobError carries the failure detail of a terminal job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one line of a job's event log.
type Event struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

type eventList struct {
	Data []Event `json:"data"`
}

// APIError is a structured error returned by the fine-tuning API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("fine-tuning api error (HTTP %d, %s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("fine-tuning api error (HTTP %d)", e.Status)
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
