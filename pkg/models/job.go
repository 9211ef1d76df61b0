package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ParseJobStatus converts a persisted status string into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s), nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// CanTransition reports whether a job may move from s to next.
// failed -> processing is only legal as an explicit retry; the caller is
// responsible for checking retry eligibility.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusFailed:
		return next == JobStatusProcessing
	case JobStatusCompleted:
		return false
	}
	return false
}

// Job is one user-submitted generation request and its tracked outcome.
// The API returns job_id on POST /generate; clients poll GET /status/{job_id}
// until status is completed or failed.
type Job struct {
	ID                   uuid.UUID      `db:"id"                     json:"id"`
	Prompt               string         `db:"prompt"                 json:"prompt"`
	Model                string         `db:"model"                  json:"model"`
	Parameters           map[string]any `db:"parameters"             json:"parameters"`
	Status               JobStatus      `db:"status"                 json:"status"`
	MediaPath            *string        `db:"media_path"             json:"media_path,omitempty"`
	ExternalPredictionID *string        `db:"external_prediction_id" json:"external_prediction_id,omitempty"`
	ErrorMessage         *string        `db:"error_message"          json:"error_message,omitempty"`
	RetryCount           int            `db:"retry_count"            json:"retry_count"`
	CreatedAt            time.Time      `db:"created_at"             json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"             json:"updated_at"`
}

// NewJob builds a pending job with a fresh id.
func NewJob(prompt, model string, params map[string]any) *Job {
	if params == nil {
		params = map[string]any{}
	}
	now := time.Now().UTC()
	return &Job{
		ID:         uuid.New(),
		Prompt:     prompt,
		Model:      model,
		Parameters: params,
		Status:     JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// PredictionInput builds the provider input: the prompt merged with the
// caller-supplied parameters. An explicit "prompt" parameter never overrides
// the job prompt.
func (j *Job) PredictionInput() map[string]any {
	input := make(map[string]any, len(j.Parameters)+1)
	for k, v := range j.Parameters {
		input[k] = v
	}
	input["prompt"] = j.Prompt
	return input
}
