package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/internal/store"
	"github.com/kiranshivaraju/mediagen/pkg/models"
)

// MemoryStore satisfies store.Store in memory for testing. Lifecycle writes
// apply the same guards as the Postgres store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job

	// Err, when set, is returned by every method.
	Err error
	// FailMarkFailed, when set, is returned by MarkFailed only.
	FailMarkFailed error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[uuid.UUID]*models.Job{}}
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return m.Err
}

func (m *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.jobs[job.ID] = clone(job)
	return nil
}

// Put stores job as-is, replacing any existing row.
func (m *MemoryStore) Put(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = clone(job)
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(j), nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var all []*models.Job
	for _, j := range m.jobs {
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		all = append(all, clone(j))
	}
	sort.Slice(all, func(a, b int) bool { return all[a].CreatedAt.After(all[b].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	out := []*models.Job{}
	for i := filter.Offset; i < len(all) && len(out) < limit; i++ {
		if i < 0 {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) ClaimStalePending(_ context.Context, staleBefore time.Time, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var stale []*models.Job
	for _, j := range m.jobs {
		if j.Status == models.JobStatusPending && j.UpdatedAt.Before(staleBefore) {
			stale = append(stale, j)
		}
	}
	sort.Slice(stale, func(a, b int) bool { return stale[a].CreatedAt.Before(stale[b].CreatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	now := time.Now().UTC()
	out := make([]*models.Job, 0, len(stale))
	for _, j := range stale {
		j.UpdatedAt = now
		out = append(out, clone(j))
	}
	return out, nil
}

func (m *MemoryStore) MarkProcessing(_ context.Context, id uuid.UUID, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.guard(id, attempt, models.JobStatusProcessing, models.JobStatusProcessing)
	if err != nil {
		return err
	}
	j.Status = models.JobStatusProcessing
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetPredictionID(_ context.Context, id uuid.UUID, attempt int, predictionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.RetryCount != attempt || j.Status != models.JobStatusProcessing {
		return fmt.Errorf("%w: %s (attempt %d) -> %s with attempt %d",
			store.ErrStaleAttempt, j.Status, j.RetryCount, models.JobStatusProcessing, attempt)
	}
	if j.ExternalPredictionID == nil {
		j.ExternalPredictionID = &predictionID
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID, attempt int, mediaPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.guard(id, attempt, models.JobStatusCompleted)
	if err != nil {
		return err
	}
	j.Status = models.JobStatusCompleted
	j.MediaPath = &mediaPath
	j.ErrorMessage = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, attempt int, errMsg string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMarkFailed != nil {
		return 0, m.FailMarkFailed
	}
	j, err := m.guard(id, attempt, models.JobStatusFailed)
	if err != nil {
		return 0, err
	}
	j.Status = models.JobStatusFailed
	j.ErrorMessage = &errMsg
	j.RetryCount++
	j.UpdatedAt = time.Now().UTC()
	return j.RetryCount, nil
}

// guard mirrors the conditional UPDATE: the row must exist, carry attempt as
// its retry count, and be in a status allowed to move to target (or in one of
// extra).
func (m *MemoryStore) guard(id uuid.UUID, attempt int, target models.JobStatus, extra ...models.JobStatus) (*models.Job, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	allowed := j.Status.CanTransition(target)
	for _, s := range extra {
		if j.Status == s {
			allowed = true
		}
	}
	if j.RetryCount != attempt || !allowed {
		return nil, fmt.Errorf("%w: %s (attempt %d) -> %s with attempt %d",
			store.ErrStaleAttempt, j.Status, j.RetryCount, target, attempt)
	}
	return j, nil
}

func (m *MemoryStore) DeleteFailedJobs(_ context.Context, minRetryCount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	n := 0
	for id, j := range m.jobs {
		if j.Status == models.JobStatusFailed && j.RetryCount >= minRetryCount {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListCompletedLocalMedia(_ context.Context) ([]store.MediaRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var refs []store.MediaRef
	for _, j := range m.sorted() {
		if j.Status != models.JobStatusCompleted || j.MediaPath == nil || isURL(*j.MediaPath) {
			continue
		}
		refs = append(refs, store.MediaRef{JobID: j.ID, MediaPath: *j.MediaPath})
	}
	return refs, nil
}

func (m *MemoryStore) DeleteCompletedJob(_ context.Context, id uuid.UUID, mediaPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusCompleted || j.MediaPath == nil || *j.MediaPath != mediaPath {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

func (m *MemoryStore) UpdateMediaPath(_ context.Context, id uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusCompleted || j.MediaPath == nil || *j.MediaPath != from {
		return false, nil
	}
	j.MediaPath = &to
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Len returns the number of stored jobs.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *MemoryStore) sorted() []*models.Job {
	out := make([]*models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func isURL(s string) bool {
	return len(s) >= 7 && (s[:7] == "http://" || (len(s) >= 8 && s[:8] == "https://"))
}

func clone(j *models.Job) *models.Job {
	c := *j
	if j.Parameters != nil {
		c.Parameters = make(map[string]any, len(j.Parameters))
		for k, v := range j.Parameters {
			c.Parameters[k] = v
		}
	}
	c.MediaPath = cloneString(j.MediaPath)
	c.ExternalPredictionID = cloneString(j.ExternalPredictionID)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ErrUnavailable is a convenience error for simulating an outage.
var ErrUnavailable = errors.New("store unavailable")

var _ store.Store = (*MemoryStore)(nil)
