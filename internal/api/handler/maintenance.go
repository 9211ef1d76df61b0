package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/mediagen/internal/api/response"
	"github.com/kiranshivaraju/mediagen/internal/maintenance"
)

// Maintainer runs the maintenance operations exposed over HTTP.
type Maintainer interface {
	PurgeFailed(ctx context.Context) (int, error)
	PurgeBrokenImages(ctx context.Context) (int, error)
	PurgeMissingImages(ctx context.Context) (int, error)
	NormalizeLegacyPaths(ctx context.Context) (int, error)
}

// NewPurgeFailedHandler returns an http.HandlerFunc for DELETE /jobs/failed.
func NewPurgeFailedHandler(m Maintainer) http.HandlerFunc {
	return maintenanceHandler(m.PurgeFailed, "Successfully deleted %d failed jobs")
}

// NewPurgeBrokenHandler returns an http.HandlerFunc for DELETE /jobs/broken-images.
func NewPurgeBrokenHandler(m Maintainer) http.HandlerFunc {
	return maintenanceHandler(m.PurgeBrokenImages, "Successfully deleted %d jobs with broken local image paths")
}

// NewPurgeMissingHandler returns an http.HandlerFunc for DELETE /jobs/missing-images.
func NewPurgeMissingHandler(m Maintainer) http.HandlerFunc {
	return maintenanceHandler(m.PurgeMissingImages, "Successfully deleted %d jobs with missing image files")
}

// NewFixPathsHandler returns an http.HandlerFunc for POST /jobs/fix-paths.
func NewFixPathsHandler(m Maintainer) http.HandlerFunc {
	return maintenanceHandler(m.NormalizeLegacyPaths, "Successfully fixed %d jobs with incorrect image paths")
}

func maintenanceHandler(run func(ctx context.Context) (int, error), format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := run(r.Context())
		if err != nil {
			if errors.Is(err, maintenance.ErrBusy) {
				response.Error(w, http.StatusConflict, "MAINTENANCE_BUSY",
					"The same maintenance operation is already running", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Maintenance operation failed", map[string]int{"count": count})
			return
		}
		response.JSON(w, response.Message{Message: fmt.Sprintf(format, count), Count: count})
	}
}
