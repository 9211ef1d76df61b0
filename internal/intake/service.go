// Package intake accepts generation requests and answers job queries.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/internal/queue"
	"github.com/kiranshivaraju/mediagen/internal/store"
	"github.com/kiranshivaraju/mediagen/pkg/models"
)

const (
	MaxPromptLength = 2000
	DefaultLimit    = 20
	MaxLimit        = 100
)

var (
	ErrInvalidPrompt = errors.New("invalid prompt")
	ErrInvalidModel  = errors.New("invalid model")
	ErrInvalidLimit  = errors.New("limit must be between 1 and 100")
	ErrInvalidSkip   = errors.New("skip must not be negative")
	ErrJobNotFound   = errors.New("job not found")
	ErrEnqueue       = errors.New("job accepted but could not be queued")
)

// GenerateRequest is a validated-on-submit generation request.
type GenerateRequest struct {
	Prompt     string         `json:"prompt"`
	Model      string         `json:"model"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Producer puts tasks on the dispatch queue.
type Producer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Service creates and reads jobs.
type Service struct {
	store store.Store
	queue Producer
}

// NewService creates a new intake Service.
func NewService(st store.Store, q Producer) *Service {
	return &Service{store: st, queue: q}
}

// Submit validates req, persists a pending job and enqueues its first attempt.
//
// If the enqueue fails the job row stays pending; the worker's pending
// reconciler picks it up later, so the job is returned together with
// ErrEnqueue rather than rolled back.
func (s *Service) Submit(ctx context.Context, req GenerateRequest) (*models.Job, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	job := models.NewJob(req.Prompt, strings.TrimSpace(req.Model), req.Parameters)
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, queue.NewTask(job)); err != nil {
		slog.Error("enqueue failed, job left pending for reconciliation", "job_id", job.ID, "error", err)
		return job, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	slog.Info("job submitted", "job_id", job.ID, "model", job.Model)
	return job, nil
}

// Validate checks a generation request.
func Validate(req GenerateRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidPrompt)
	}
	if n := utf8.RuneCountInString(req.Prompt); n > MaxPromptLength {
		return fmt.Errorf("%w: prompt must be at most %d characters, got %d", ErrInvalidPrompt, MaxPromptLength, n)
	}
	if strings.TrimSpace(req.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidModel)
	}
	return nil
}

// Get returns one job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first.
func (s *Service) List(ctx context.Context, skip, limit int) ([]*models.Job, error) {
	return s.list(ctx, nil, skip, limit)
}

// ListCompleted returns completed jobs newest first.
func (s *Service) ListCompleted(ctx context.Context, skip, limit int) ([]*models.Job, error) {
	completed := models.JobStatusCompleted
	return s.list(ctx, &completed, skip, limit)
}

func (s *Service) list(ctx context.Context, status *models.JobStatus, skip, limit int) ([]*models.Job, error) {
	if skip < 0 {
		return nil, ErrInvalidSkip
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, ErrInvalidLimit
	}

	jobs, err := s.store.ListJobs(ctx, store.JobFilter{Status: status, Offset: skip, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}
