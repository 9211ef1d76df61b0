package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/mediagen/internal/api/response"
)

// ServiceName identifies this API in health responses.
const ServiceName = "media-generation-api"

// Pinger is a dependency that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler checks database and cache connectivity.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "healthy",
			"service":  ServiceName,
			"services": checks,
		})
	}
}

// NewRootHandler returns the welcome document served at /.
func NewRootHandler(projectName, apiPrefix string) http.HandlerFunc {
	body := map[string]string{
		"message": "Welcome to " + projectName,
		"health":  apiPrefix + "/health",
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, body)
	}
}
