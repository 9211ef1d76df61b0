package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/mediagen/pkg/models"
)

const jobColumns = `id, prompt, model, parameters, status, media_path, external_prediction_id,
	error_message, retry_count, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	params := job.Parameters
	if params == nil {
		params = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, prompt, model, parameters, status, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Prompt, job.Model, params, string(job.Status), job.RetryCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		rows pgx.Rows
		err  error
	)
	if filter.Status != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = $1
			 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			string(*filter.Status), limit, offset)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ClaimStalePending(ctx context.Context, staleBefore time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET updated_at = NOW()
		 WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND updated_at < $1
			ORDER BY created_at ASC LIMIT $2
			FOR UPDATE SKIP LOCKED)
		   AND status = 'pending' AND updated_at < $1
		 RETURNING `+jobColumns, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim stale pending jobs: %w", err)
	}
	return collectJobs(rows)
}

// --- Lifecycle writes ---

// MarkProcessing claims the job for the attempt. Re-claiming a job that is
// already processing under the same attempt is allowed so a task redelivered
// after a worker crash can finish it.
func (s *PostgresStore) MarkProcessing(ctx context.Context, id uuid.UUID, attempt int) error {
	from := append(sourceStatuses(models.JobStatusProcessing), string(models.JobStatusProcessing))
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND retry_count = $2 AND status = ANY($4)`,
		id, attempt, string(models.JobStatusProcessing), from)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardMiss(ctx, id, attempt, models.JobStatusProcessing)
	}
	return nil
}

// SetPredictionID records the remote correlation id. The first recorded id is
// kept: it is set once and never cleared or replaced.
func (s *PostgresStore) SetPredictionID(ctx context.Context, id uuid.UUID, attempt int, predictionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET external_prediction_id = COALESCE(external_prediction_id, $3), updated_at = NOW()
		 WHERE id = $1 AND retry_count = $2 AND status = 'processing'`,
		id, attempt, predictionID)
	if err != nil {
		return fmt.Errorf("set prediction id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardMiss(ctx, id, attempt, models.JobStatusProcessing)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id uuid.UUID, attempt int, mediaPath string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $3, media_path = $4, error_message = NULL, updated_at = NOW()
		 WHERE id = $1 AND retry_count = $2 AND status = ANY($5)`,
		id, attempt, string(models.JobStatusCompleted), mediaPath, sourceStatuses(models.JobStatusCompleted))
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardMiss(ctx, id, attempt, models.JobStatusCompleted)
	}
	return nil
}

// MarkFailed records a failed attempt and returns the new retry count.
// status, error_message and retry_count change in one statement.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, errMsg string) (int, error) {
	var retryCount int
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $3, error_message = $4, retry_count = retry_count + 1, updated_at = NOW()
		 WHERE id = $1 AND retry_count = $2 AND status = ANY($5)
		 RETURNING retry_count`,
		id, attempt, string(models.JobStatusFailed), errMsg, sourceStatuses(models.JobStatusFailed),
	).Scan(&retryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, s.guardMiss(ctx, id, attempt, models.JobStatusFailed)
	}
	if err != nil {
		return 0, fmt.Errorf("mark job failed: %w", err)
	}
	return retryCount, nil
}

// guardMiss explains why a conditional lifecycle write touched no row.
func (s *PostgresStore) guardMiss(ctx context.Context, id uuid.UUID, attempt int, target models.JobStatus) error {
	var (
		status     string
		retryCount int
	)
	err := s.pool.QueryRow(ctx, `SELECT status, retry_count FROM jobs WHERE id = $1`, id).Scan(&status, &retryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s (attempt %d) -> %s with attempt %d",
		ErrStaleAttempt, status, retryCount, target, attempt)
}

// sourceStatuses lists every status allowed to move to target.
func sourceStatuses(target models.JobStatus) []string {
	all := []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	}
	var from []string
	for _, s := range all {
		if s.CanTransition(target) {
			from = append(from, string(s))
		}
	}
	return from
}

// --- Maintenance ---

func (s *PostgresStore) DeleteFailedJobs(ctx context.Context, minRetryCount int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status = 'failed' AND retry_count >= $1`, minRetryCount)
	if err != nil {
		return 0, fmt.Errorf("delete failed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListCompletedLocalMedia returns completed jobs whose media path is not a
// remote URL.
func (s *PostgresStore) ListCompletedLocalMedia(ctx context.Context) ([]MediaRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, media_path FROM jobs
		 WHERE status = 'completed' AND media_path IS NOT NULL
		   AND media_path NOT LIKE 'http://%' AND media_path NOT LIKE 'https://%'
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list completed local media: %w", err)
	}
	defer rows.Close()

	var refs []MediaRef
	for rows.Next() {
		var ref MediaRef
		if err := rows.Scan(&ref.JobID, &ref.MediaPath); err != nil {
			return nil, fmt.Errorf("scan media ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteCompletedJob deletes a completed job only if its media path is still
// the one the caller inspected.
func (s *PostgresStore) DeleteCompletedJob(ctx context.Context, id uuid.UUID, mediaPath string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1 AND status = 'completed' AND media_path = $2`, id, mediaPath)
	if err != nil {
		return false, fmt.Errorf("delete completed job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateMediaPath(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET media_path = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'completed' AND media_path = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update media path: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- scanning ---

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j      models.Job
		status string
	)
	if err := row.Scan(&j.ID, &j.Prompt, &j.Model, &j.Parameters, &status, &j.MediaPath,
		&j.ExternalPredictionID, &j.ErrorMessage, &j.RetryCount, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := models.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	j.Status = st
	if j.Parameters == nil {
		j.Parameters = map[string]any{}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()
	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
