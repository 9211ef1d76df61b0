package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/mediagen/internal/api/middleware"
	"github.com/kiranshivaraju/mediagen/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	// Prefix is the mount point for the JSON API, e.g. /api/v1.
	Prefix         string
	AllowedOrigins []string
	RateLimit      *mw.RateLimit

	RootHandler          http.HandlerFunc
	HealthHandler        http.HandlerFunc
	GenerateHandler      http.HandlerFunc
	StatusHandler        http.HandlerFunc
	ListJobsHandler      http.HandlerFunc
	ListCompletedHandler http.HandlerFunc
	PurgeFailedHandler   http.HandlerFunc
	PurgeBrokenHandler   http.HandlerFunc
	PurgeMissingHandler  http.HandlerFunc
	FixPathsHandler      http.HandlerFunc
	ImageHandler         http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.CORS(deps.AllowedOrigins))

	r.Get("/", orNotImplemented(deps.RootHandler))
	r.Get("/images/{filename}", orNotImplemented(deps.ImageHandler))

	p := deps.Prefix
	r.Get(p+"/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		r.Post(p+"/generate", orNotImplemented(deps.GenerateHandler))
	})

	r.Get(p+"/status/{jobID}", orNotImplemented(deps.StatusHandler))
	r.Get(p+"/jobs", orNotImplemented(deps.ListJobsHandler))
	r.Get(p+"/jobs/completed", orNotImplemented(deps.ListCompletedHandler))

	// Maintenance
	r.Delete(p+"/jobs/failed", orNotImplemented(deps.PurgeFailedHandler))
	r.Delete(p+"/jobs/broken-images", orNotImplemented(deps.PurgeBrokenHandler))
	r.Delete(p+"/jobs/missing-images", orNotImplemented(deps.PurgeMissingHandler))
	r.Post(p+"/jobs/fix-paths", orNotImplemented(deps.FixPathsHandler))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
