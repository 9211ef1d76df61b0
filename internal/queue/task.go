// Package queue carries job execution tasks from the API to the workers.
//
// Delivery is at-least-once: a task popped by a worker sits in that worker's
// in-flight list until it is acked, and anything left there after a crash is
// put back on the ready list when the worker restarts. Consumers must tolerate
// duplicates.
package queue

import (
	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/pkg/models"
)

// Task asks a worker to run one attempt of a job. Attempt is the job's
// retry_count when the attempt was scheduled.
type Task struct {
	JobID   uuid.UUID      `json:"job_id"`
	Model   string         `json:"model"`
	Input   map[string]any `json:"input"`
	Attempt int            `json:"attempt"`
}

// NewTask builds the task for the job's current attempt.
func NewTask(job *models.Job) Task {
	return Task{
		JobID:   job.ID,
		Model:   job.Model,
		Input:   job.PredictionInput(),
		Attempt: job.RetryCount,
	}
}

// Next returns the task for the attempt after t.
func (t Task) Next() Task {
	t.Attempt++
	return t
}
