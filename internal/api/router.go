package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kavyanair/gramscope/internal/api/middleware"
	"github.com/kavyanair/gramscope/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	AnalyzeHandler http.HandlerFunc
	ListJobs       http.HandlerFunc
	GetJob         http.HandlerFunc

	GetProfile    http.HandlerFunc
	DeleteProfile http.HandlerFunc
	ProfileStats  http.HandlerFunc

	MediaProxy http.HandlerFunc

	UpsertCredential http.HandlerFunc
	ListCredentials  http.HandlerFunc
	DeleteCredential http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// The media proxy is public so <img> tags can load it without headers.
	r.Get("/api/v1/media/proxy", orNotImplemented(deps.MediaProxy))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/instagram/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Get("/api/v1/instagram/jobs", orNotImplemented(deps.ListJobs))
		r.Get("/api/v1/instagram/jobs/{jobID}", orNotImplemented(deps.GetJob))

		r.Get("/api/v1/instagram/profiles/{username}", orNotImplemented(deps.GetProfile))
		r.Delete("/api/v1/instagram/profiles/{username}", orNotImplemented(deps.DeleteProfile))
		r.Get("/api/v1/instagram/profiles/{username}/stats", orNotImplemented(deps.ProfileStats))

		r.Get("/api/v1/credentials", orNotImplemented(deps.ListCredentials))
		r.Put("/api/v1/credentials/{service}", orNotImplemented(deps.UpsertCredential))
		r.Delete("/api/v1/credentials/{service}", orNotImplemented(deps.DeleteCredential))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
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
