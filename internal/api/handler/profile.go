package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	mw "github.com/kavyanair/gramscope/internal/api/middleware"
	"github.com/kavyanair/gramscope/internal/api/response"
	"github.com/kavyanair/gramscope/internal/store"
	"github.com/kavyanair/gramscope/pkg/models"
)

type profileResponse struct {
	Profile *models.Profile `json:"profile"`
	Posts   []*models.Post  `json:"posts"`
}

// NewGetProfileHandler returns an http.HandlerFunc for
// GET /api/v1/instagram/profiles/{username}. The response bundles the
// profile with its stored posts.
func NewGetProfileHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		username := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "username")))
		if username == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "username is required", nil)
			return
		}

		profile, err := s.GetProfileByUsername(r.Context(), tenantID, username)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Profile not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load profile", nil)
			return
		}

		posts, err := s.ListPostsForProfile(r.Context(), profile.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load posts", nil)
			return
		}
		if posts == nil {
			posts = []*models.Post{}
		}

		response.JSON(w, profileResponse{Profile: profile, Posts: posts})
	}
}

// NewDeleteProfileHandler returns an http.HandlerFunc for
// DELETE /api/v1/instagram/profiles/{username}. Posts go with the profile
// via the cascade.
func NewDeleteProfileHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		username := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "username")))
		if username == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "username is required", nil)
			return
		}

		if err := s.DeleteProfile(r.Context(), tenantID, username); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Profile not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to delete profile", nil)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
