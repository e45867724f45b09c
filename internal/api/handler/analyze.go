package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kavyanair/gramscope/internal/api/middleware"
	"github.com/kavyanair/gramscope/internal/api/response"
	"github.com/kavyanair/gramscope/internal/apify"
	"github.com/kavyanair/gramscope/internal/cache"
	"github.com/kavyanair/gramscope/internal/ingest"
	"github.com/kavyanair/gramscope/internal/store"
	"github.com/kavyanair/gramscope/pkg/models"
)

// usernamePattern matches Instagram handles: letters, digits, dots and
// underscores, at most 30 characters.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

// Analyzer defines the coordinator surface the handlers depend on.
type Analyzer interface {
	RequestAnalysis(ctx context.Context, tenantID uuid.UUID, username string, params ingest.AnalyzeParams) (*ingest.AnalysisResponse, error)
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/instagram/analyze.
func NewAnalyzeHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			Username           string `json:"username"`
			ResultsLimit       int    `json:"results_limit"`
			OnlyPostsNewerThan string `json:"only_posts_newer_than"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		username := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(req.Username, "@")))
		if username == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "username is required", nil)
			return
		}
		if !usernamePattern.MatchString(username) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"username may only contain letters, digits, dots and underscores", nil)
			return
		}

		if req.ResultsLimit < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"results_limit must not be negative", nil)
			return
		}

		result, err := svc.RequestAnalysis(r.Context(), tenantID, username, ingest.AnalyzeParams{
			ResultsLimit:       req.ResultsLimit,
			OnlyPostsNewerThan: req.OnlyPostsNewerThan,
		})
		if err != nil {
			switch {
			case errors.Is(err, ingest.ErrNoCredential):
				response.Error(w, http.StatusPreconditionFailed, "NO_CREDENTIAL",
					"No Apify credential is configured for this tenant", nil)
			case errors.Is(err, apify.ErrProviderRejected):
				response.Error(w, http.StatusBadGateway, "PROVIDER_REJECTED",
					"The scraping provider rejected the request", nil)
			case errors.Is(err, apify.ErrProviderUnreachable), errors.Is(err, apify.ErrProviderTimeout):
				response.Error(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE",
					"The scraping provider is not reachable", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		if result.Outcome == ingest.OutcomeStarted {
			response.Accepted(w, result)
			return
		}
		response.JSON(w, result)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/instagram/jobs.
// An optional ?username= filter narrows the listing to one account.
func NewListJobsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		username := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("username")))

		var (
			jobs []*models.ScrapeJob
			err  error
		)
		if username != "" {
			jobs, err = s.ListJobsForUsername(r.Context(), tenantID, username)
		} else {
			jobs, err = s.ListJobsForTenant(r.Context(), tenantID)
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list jobs", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.ScrapeJob{}
		}
		response.JSON(w, jobs)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/instagram/jobs/{jobID}.
// The cache answers status polls when it can; the store is the fallback and
// always serves the full record.
func NewGetJobHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load job", nil)
			return
		}
		if job.TenantID != tenantID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		// Prefer the cached status if it is ahead of the row we read.
		if c != nil {
			if cached, found, cerr := c.GetJobStatus(r.Context(), jobID); cerr == nil && found {
				job.Status = cached
			}
		}

		response.JSON(w, job)
	}
}
