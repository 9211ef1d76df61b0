package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Mode selects how a result reference becomes a media path.
type Mode string

const (
	ModeLocal       Mode = "local"
	ModePassthrough Mode = "passthrough"
)

// ErrNoReference is returned when there is nothing to resolve.
var ErrNoReference = errors.New("media: empty result reference")

// Resolver turns a prediction's result reference into the media path stored
// on the job.
type Resolver struct {
	mode    Mode
	store   *FileStore
	fetcher Fetcher
}

// NewResolver creates a Resolver. store and fetcher are only used in local mode.
func NewResolver(mode Mode, store *FileStore, fetcher Fetcher) (*Resolver, error) {
	switch mode {
	case ModePassthrough:
	case ModeLocal:
		if store == nil || fetcher == nil {
			return nil, errors.New("media: local mode needs a file store and a fetcher")
		}
	default:
		return nil, fmt.Errorf("media: unknown mode %q", mode)
	}
	return &Resolver{mode: mode, store: store, fetcher: fetcher}, nil
}

// Mode returns the configured resolution mode.
func (r *Resolver) Mode() Mode { return r.mode }

// Resolve returns the media path for ref. In local mode the artifact is
// downloaded as <jobID>_<suffix>.png and served from ServedPrefix; if the
// download fails the remote reference is kept instead.
func (r *Resolver) Resolve(ctx context.Context, jobID uuid.UUID, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrNoReference
	}
	if r.mode == ModePassthrough {
		return ref, nil
	}

	name := FileNameFor(jobID)
	if err := r.capture(ctx, ref, name); err != nil {
		slog.Warn("media capture failed, keeping remote reference",
			"job_id", jobID, "url", ref, "error", err)
		return ref, nil
	}
	return ServedPath(name), nil
}

func (r *Resolver) capture(ctx context.Context, ref, name string) error {
	body, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	defer body.Close()
	return r.store.Write(ctx, name, body)
}

// FileNameFor returns a fresh file name for a job's image. The random suffix
// keeps retries of the same job from overwriting each other.
func FileNameFor(jobID uuid.UUID) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%s.png", jobID, suffix)
}
