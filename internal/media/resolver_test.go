package media_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	body string
	err  error
}

func (f stubFetcher) Fetch(_ context.Context, _ string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestResolve_Passthrough(t *testing.T) {
	r, err := media.NewResolver(media.ModePassthrough, nil, nil)
	require.NoError(t, err)

	path, err := r.Resolve(context.Background(), uuid.New(), "https://cdn.example.com/out.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/out.png", path)
}

func TestResolve_LocalCapture(t *testing.T) {
	fs := newStore(t)
	r, err := media.NewResolver(media.ModeLocal, fs, stubFetcher{body: "image"})
	require.NoError(t, err)

	jobID := uuid.New()
	path, err := r.Resolve(context.Background(), jobID, "https://cdn.example.com/out.png")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^/images/` + jobID.String() + `_[0-9a-f]{12}\.png$`)
	assert.Regexp(t, pattern, path)

	ok, err := fs.Exists(strings.TrimPrefix(path, media.ServedPrefix))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolve_LocalFallsBackToRemoteOnFetchFailure(t *testing.T) {
	fs := newStore(t)
	r, err := media.NewResolver(media.ModeLocal, fs, stubFetcher{err: errors.New("connection refused")})
	require.NoError(t, err)

	path, err := r.Resolve(context.Background(), uuid.New(), "https://cdn.example.com/out.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/out.png", path)
}

func TestResolve_RetriesGetDistinctFiles(t *testing.T) {
	fs := newStore(t)
	r, err := media.NewResolver(media.ModeLocal, fs, stubFetcher{body: "image"})
	require.NoError(t, err)

	jobID := uuid.New()
	first, err := r.Resolve(context.Background(), jobID, "https://cdn.example.com/1.png")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), jobID, "https://cdn.example.com/2.png")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestResolve_EmptyReference(t *testing.T) {
	r, err := media.NewResolver(media.ModePassthrough, nil, nil)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), uuid.New(), "  ")
	assert.ErrorIs(t, err, media.ErrNoReference)
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := media.NewResolver(media.ModeLocal, nil, nil)
	assert.Error(t, err)

	_, err = media.NewResolver(media.Mode("s3"), nil, nil)
	assert.Error(t, err)
}

func TestHTTPFetcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer ts.Close()

	f := media.NewHTTPFetcher(5 * time.Second)

	body, err := f.Fetch(context.Background(), ts.URL+"/out.png")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, "png", string(data))

	_, err = f.Fetch(context.Background(), ts.URL+"/missing.png")
	assert.ErrorIs(t, err, media.ErrFetchFailed)
}
