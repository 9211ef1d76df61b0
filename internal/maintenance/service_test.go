package maintenance_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/mediagen/internal/maintenance"
	"github.com/kiranshivaraju/mediagen/internal/media"
	stmock "github.com/kiranshivaraju/mediagen/internal/store/mock"
	"github.com/kiranshivaraju/mediagen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storageRoot = "./storage"

type fixture struct {
	store *stmock.MemoryStore
	files *media.FileStore
	svc   *maintenance.Service
}

func newFixture(t *testing.T, maxRetries int) *fixture {
	t.Helper()
	files, err := media.NewFileStore(t.TempDir())
	require.NoError(t, err)
	st := stmock.NewMemoryStore()
	return &fixture{
		store: st,
		files: files,
		svc:   maintenance.NewService(st, files, nil, storageRoot, maxRetries),
	}
}

func (f *fixture) completed(t *testing.T, mediaPath string) *models.Job {
	t.Helper()
	job := models.NewJob("p", "m", nil)
	job.Status = models.JobStatusCompleted
	job.MediaPath = &mediaPath
	f.store.Put(job)
	return job
}

func (f *fixture) failed(t *testing.T, retryCount int) *models.Job {
	t.Helper()
	job := models.NewJob("p", "m", nil)
	job.Status = models.JobStatusFailed
	job.RetryCount = retryCount
	msg := "boom"
	job.ErrorMessage = &msg
	f.store.Put(job)
	return job
}

func (f *fixture) writeFile(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, f.files.Write(context.Background(), name, strings.NewReader("png")))
}

func (f *fixture) mediaPath(t *testing.T, job *models.Job) string {
	t.Helper()
	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	return *got.MediaPath
}

func (f *fixture) exists(job *models.Job) bool {
	_, err := f.store.GetJob(context.Background(), job.ID)
	return err == nil
}

// --- PurgeFailed ---

func TestPurgeFailed_OnlyTerminalRows(t *testing.T) {
	f := newFixture(t, 3)
	terminal := f.failed(t, 3)
	retrying := f.failed(t, 1)
	done := f.completed(t, "/images/a.png")

	n, err := f.svc.PurgeFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.False(t, f.exists(terminal))
	assert.True(t, f.exists(retrying))
	assert.True(t, f.exists(done))

	n, err = f.svc.PurgeFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurgeFailed_EmptyStore(t *testing.T) {
	f := newFixture(t, 3)

	n, err := f.svc.PurgeFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurgeFailed_StoreError(t *testing.T) {
	f := newFixture(t, 3)
	f.store.Err = stmock.ErrUnavailable

	_, err := f.svc.PurgeFailed(context.Background())
	assert.ErrorIs(t, err, stmock.ErrUnavailable)
}

// --- PurgeBrokenImages ---

func TestPurgeBrokenImages_ChecksFilePresence(t *testing.T) {
	f := newFixture(t, 3)
	f.writeFile(t, "present.png")
	present := f.completed(t, "/images/present.png")
	missing := f.completed(t, "/images/missing.png")
	legacyMissing := f.completed(t, "./storage/generated/gone.png")
	remote := f.completed(t, "https://cdn.example.com/x.png")

	n, err := f.svc.PurgeBrokenImages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, f.exists(present))
	assert.False(t, f.exists(missing))
	assert.True(t, f.exists(legacyMissing), "legacy rows are left to purge-missing")
	assert.True(t, f.exists(remote))
}

func TestPurgeBrokenImages_Idempotent(t *testing.T) {
	f := newFixture(t, 3)
	f.completed(t, "/images/missing.png")

	n, err := f.svc.PurgeBrokenImages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.PurgeBrokenImages(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- PurgeMissingImages ---

func TestPurgeMissingImages_AllLocalFormats(t *testing.T) {
	f := newFixture(t, 3)
	f.writeFile(t, "kept.png")
	kept := f.completed(t, "storage/generated/kept.png")
	served := f.completed(t, "/images/missing.png")
	legacy := f.completed(t, "./storage/generated/gone.png")
	remote := f.completed(t, "https://cdn.example.com/x.png")

	n, err := f.svc.PurgeMissingImages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, f.exists(kept))
	assert.False(t, f.exists(served))
	assert.False(t, f.exists(legacy))
	assert.True(t, f.exists(remote))
}

// --- NormalizeLegacyPaths ---

func TestNormalizeLegacyPaths(t *testing.T) {
	f := newFixture(t, 3)
	a := f.completed(t, "./storage/generated/a.png")
	b := f.completed(t, "storage/generated/b.png")
	c := f.completed(t, "/var/lib/old/generated/c.png")
	current := f.completed(t, "/images/d.png")
	remote := f.completed(t, "https://cdn.example.com/generated/e.png")

	n, err := f.svc.NormalizeLegacyPaths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, "/images/a.png", f.mediaPath(t, a))
	assert.Equal(t, "/images/b.png", f.mediaPath(t, b))
	assert.Equal(t, "/images/c.png", f.mediaPath(t, c))
	assert.Equal(t, "/images/d.png", f.mediaPath(t, current))
	assert.Equal(t, "https://cdn.example.com/generated/e.png", f.mediaPath(t, remote))

	n, err = f.svc.NormalizeLegacyPaths(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "second run must be a no-op")
}

func TestNormalizeLegacyPaths_IgnoresNonCompleted(t *testing.T) {
	f := newFixture(t, 3)
	job := models.NewJob("p", "m", nil)
	job.Status = models.JobStatusFailed
	path := "./storage/generated/a.png"
	job.MediaPath = &path
	f.store.Put(job)

	n, err := f.svc.NormalizeLegacyPaths(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- locking ---

type fakeLocker struct {
	held     map[string]string
	acquired []string
	err      error
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token-" + key
	l.acquired = append(l.acquired, key)
	return l.held[key], true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func TestService_LocksEachOperation(t *testing.T) {
	files, err := media.NewFileStore(t.TempDir())
	require.NoError(t, err)
	locker := &fakeLocker{held: map[string]string{}}
	svc := maintenance.NewService(stmock.NewMemoryStore(), files, locker, storageRoot, 3)

	_, err = svc.PurgeFailed(context.Background())
	require.NoError(t, err)
	_, err = svc.NormalizeLegacyPaths(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"mediagen:lock:maintenance:purge-failed",
		"mediagen:lock:maintenance:fix-paths",
	}, locker.acquired)
	assert.Empty(t, locker.held, "locks must be released")
}

func TestService_BusyWhenLockHeld(t *testing.T) {
	files, err := media.NewFileStore(t.TempDir())
	require.NoError(t, err)
	locker := &fakeLocker{held: map[string]string{"mediagen:lock:maintenance:purge-broken": "other"}}
	svc := maintenance.NewService(stmock.NewMemoryStore(), files, locker, storageRoot, 3)

	_, err = svc.PurgeBrokenImages(context.Background())
	assert.ErrorIs(t, err, maintenance.ErrBusy)
}

func TestService_LockError(t *testing.T) {
	files, err := media.NewFileStore(t.TempDir())
	require.NoError(t, err)
	locker := &fakeLocker{held: map[string]string{}, err: errors.New("redis down")}
	svc := maintenance.NewService(stmock.NewMemoryStore(), files, locker, storageRoot, 3)

	_, err = svc.PurgeMissingImages(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}
