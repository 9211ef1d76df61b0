package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/mediagen/internal/api/response"
	"github.com/kiranshivaraju/mediagen/internal/media"
)

// ImageStore opens generated images by bare file name.
type ImageStore interface {
	Open(name string) (*os.File, error)
}

// NewImageHandler returns an http.HandlerFunc for GET /images/{filename}.
// Names with path separators or a leading dot are rejected by the store and
// reported as not found.
func NewImageHandler(images ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		f, err := images.Open(name)
		if err != nil {
			if !errors.Is(err, media.ErrInvalidName) && !errors.Is(err, fs.ErrNotExist) {
				slog.Error("open image failed", "filename", name, "error", err)
			}
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}
