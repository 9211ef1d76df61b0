// Package maintenance repairs and prunes job rows that drifted out of step
// with local media storage.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/internal/cache"
	"github.com/kiranshivaraju/mediagen/internal/media"
	"github.com/kiranshivaraju/mediagen/internal/store"
)

// Operation names, also used for locking and logging.
const (
	OpPurgeFailed   = "purge-failed"
	OpPurgeBroken   = "purge-broken"
	OpPurgeMissing  = "purge-missing"
	OpNormalizePath = "fix-paths"
)

// ErrBusy is returned when the same operation is already running elsewhere.
var ErrBusy = errors.New("maintenance operation already running")

const lockTTL = 10 * time.Minute

// JobStore is the part of the job store maintenance needs.
type JobStore interface {
	DeleteFailedJobs(ctx context.Context, minRetryCount int) (int, error)
	ListCompletedLocalMedia(ctx context.Context) ([]store.MediaRef, error)
	DeleteCompletedJob(ctx context.Context, id uuid.UUID, mediaPath string) (bool, error)
	UpdateMediaPath(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
}

// FileChecker reports whether a generated image exists.
type FileChecker interface {
	Exists(name string) (bool, error)
}

// Locker serializes operations across processes.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Service runs maintenance operations.
type Service struct {
	store       JobStore
	files       FileChecker
	locker      Locker
	storageRoot string
	maxRetries  int
}

// NewService creates a maintenance Service. locker may be nil, in which case
// operations are not serialized.
func NewService(st JobStore, files FileChecker, locker Locker, storageRoot string, maxRetries int) *Service {
	return &Service{
		store:       st,
		files:       files,
		locker:      locker,
		storageRoot: storageRoot,
		maxRetries:  maxRetries,
	}
}

// PurgeFailed deletes failed jobs that have no retries left.
func (s *Service) PurgeFailed(ctx context.Context) (int, error) {
	return s.run(ctx, OpPurgeFailed, func(ctx context.Context) (int, error) {
		return s.store.DeleteFailedJobs(ctx, s.maxRetries)
	})
}

// PurgeBrokenImages deletes completed jobs whose /images/ reference points at
// a file that is not on disk.
func (s *Service) PurgeBrokenImages(ctx context.Context) (int, error) {
	return s.run(ctx, OpPurgeBroken, func(ctx context.Context) (int, error) {
		return s.purgeMissing(ctx, media.RefServed)
	})
}

// PurgeMissingImages deletes completed jobs with any local reference, current
// or legacy, whose file is not on disk.
func (s *Service) PurgeMissingImages(ctx context.Context) (int, error) {
	return s.run(ctx, OpPurgeMissing, func(ctx context.Context) (int, error) {
		return s.purgeMissing(ctx, media.RefServed, media.RefLegacy)
	})
}

// NormalizeLegacyPaths rewrites legacy on-disk references to /images/<file>.
// Running it again is a no-op.
func (s *Service) NormalizeLegacyPaths(ctx context.Context) (int, error) {
	return s.run(ctx, OpNormalizePath, func(ctx context.Context) (int, error) {
		refs, err := s.store.ListCompletedLocalMedia(ctx)
		if err != nil {
			return 0, err
		}
		count := 0
		for _, ref := range refs {
			if media.Classify(ref.MediaPath, s.storageRoot) != media.RefLegacy {
				continue
			}
			name, ok := media.LocalFileName(ref.MediaPath, s.storageRoot)
			if !ok {
				continue
			}
			updated, err := s.store.UpdateMediaPath(ctx, ref.JobID, ref.MediaPath, media.ServedPath(name))
			if err != nil {
				return count, err
			}
			if updated {
				count++
			}
		}
		return count, nil
	})
}

func (s *Service) purgeMissing(ctx context.Context, kinds ...media.RefKind) (int, error) {
	refs, err := s.store.ListCompletedLocalMedia(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, ref := range refs {
		if !kindIn(media.Classify(ref.MediaPath, s.storageRoot), kinds) {
			continue
		}
		name, ok := media.LocalFileName(ref.MediaPath, s.storageRoot)
		if !ok {
			continue
		}
		exists, err := s.files.Exists(name)
		if err != nil {
			// Only a confirmed absence justifies deleting the row.
			slog.Warn("cannot check media file, skipping", "job_id", ref.JobID, "media_path", ref.MediaPath, "error", err)
			continue
		}
		if exists {
			continue
		}
		deleted, err := s.store.DeleteCompletedJob(ctx, ref.JobID, ref.MediaPath)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (int, error)) (int, error) {
	if s.locker != nil {
		key := cache.MaintenanceLockKey(op)
		token, ok, err := s.locker.AcquireLock(ctx, key, lockTTL)
		if err != nil {
			return 0, fmt.Errorf("%s: acquire lock: %w", op, err)
		}
		if !ok {
			return 0, fmt.Errorf("%s: %w", op, ErrBusy)
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
				slog.Warn("release maintenance lock failed", "operation", op, "error", err)
			}
		}()
	}

	start := time.Now()
	n, err := fn(ctx)
	if err != nil {
		slog.Error("maintenance failed", "operation", op, "count", n, "error", err)
		return n, fmt.Errorf("%s: %w", op, err)
	}
	slog.Info("maintenance completed", "operation", op, "count", n, "duration_ms", time.Since(start).Milliseconds())
	return n, nil
}

func kindIn(k media.RefKind, kinds []media.RefKind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
