package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// ErrStaleAttempt is returned by lifecycle writes whose guard no longer holds:
// another delivery of the same task, or a later attempt, already moved the job on.
var ErrStaleAttempt = errors.New("job attempt superseded")

// Store is the data access interface. All database operations go through here.
//
// Lifecycle writes (Mark*, SetPredictionID) are single conditional UPDATEs
// keyed by job id and the attempt number (the retry_count the attempt started
// with). A write whose guard fails returns ErrStaleAttempt and changes nothing,
// so duplicate deliveries can never regress a job.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	// ClaimStalePending returns pending jobs untouched since staleBefore and
	// marks them touched, so each is handed out at most once per window.
	ClaimStalePending(ctx context.Context, staleBefore time.Time, limit int) ([]*models.Job, error)

	MarkProcessing(ctx context.Context, id uuid.UUID, attempt int) error
	SetPredictionID(ctx context.Context, id uuid.UUID, attempt int, predictionID string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, attempt int, mediaPath string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, errMsg string) (int, error)

	DeleteFailedJobs(ctx context.Context, minRetryCount int) (int, error)
	ListCompletedLocalMedia(ctx context.Context) ([]MediaRef, error)
	DeleteCompletedJob(ctx context.Context, id uuid.UUID, mediaPath string) (bool, error)
	UpdateMediaPath(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
}

// JobFilter narrows ListJobs. A nil Status lists every job.
type JobFilter struct {
	Status *models.JobStatus
	Offset int
	Limit  int
}

// MediaRef is the media reference of a completed job.
type MediaRef struct {
	JobID     uuid.UUID
	MediaPath string
}
