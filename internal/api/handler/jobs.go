package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/internal/api/response"
	"github.com/kiranshivaraju/mediagen/internal/intake"
	"github.com/kiranshivaraju/mediagen/pkg/models"
)

const maxRequestBodyBytes = 1 << 20

// JobService defines the intake operations the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, req intake.GenerateRequest) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, skip, limit int) ([]*models.Job, error)
	ListCompleted(ctx context.Context, skip, limit int) ([]*models.Job, error)
}

type generateResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewGenerateHandler returns an http.HandlerFunc for POST /generate.
func NewGenerateHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req intake.GenerateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		message := "Job accepted for processing"
		job, err := svc.Submit(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, intake.ErrInvalidPrompt):
				response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(),
					map[string]string{"prompt": err.Error()})
				return
			case errors.Is(err, intake.ErrInvalidModel):
				response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(),
					map[string]string{"model": err.Error()})
				return
			case errors.Is(err, intake.ErrEnqueue) && job != nil:
				// The row exists; the worker's reconciler dispatches it later.
				message = "Job accepted, dispatch delayed"
			default:
				slog.Error("submit job failed", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred while creating the job", nil)
				return
			}
		}

		response.Accepted(w, generateResponse{
			JobID:   job.ID.String(),
			Status:  string(job.Status),
			Message: message,
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /status/{jobID}.
func NewStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		job, err := svc.Get(r.Context(), id)
		if errors.Is(err, intake.ErrJobNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			slog.Error("get job failed", "job_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return listHandler(svc.List)
}

// NewListCompletedHandler returns an http.HandlerFunc for GET /jobs/completed.
func NewListCompletedHandler(svc JobService) http.HandlerFunc {
	return listHandler(svc.ListCompleted)
}

func listHandler(list func(ctx context.Context, skip, limit int) ([]*models.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skip, err := queryInt(r, "skip")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "skip must be an integer", nil)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
			return
		}

		jobs, err := list(r.Context(), skip, limit)
		if err != nil {
			switch {
			case errors.Is(err, intake.ErrInvalidLimit), errors.Is(err, intake.ErrInvalidSkip):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			default:
				slog.Error("list jobs failed", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, jobs)
	}
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
