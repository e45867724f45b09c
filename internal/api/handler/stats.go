package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kavyanair/gramscope/internal/analysis"
	mw "github.com/kavyanair/gramscope/internal/api/middleware"
	"github.com/kavyanair/gramscope/internal/api/response"
	"github.com/kavyanair/gramscope/internal/store"
)

// NewProfileStatsHandler returns an http.HandlerFunc for
// GET /api/v1/instagram/profiles/{username}/stats.
func NewProfileStatsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		username := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "username")))
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

		inputs := make([]analysis.PostInput, 0, len(posts))
		for _, post := range posts {
			inputs = append(inputs, analysis.PostInput{
				LikesCount:    post.LikesCount,
				CommentsCount: post.CommentsCount,
				ViewsCount:    post.ViewsCount,
				ContentType:   post.ContentType,
				IsVideo:       post.IsVideo,
				Hashtags:      post.Hashtags,
				PostedAt:      post.PostedAt,
			})
		}

		response.JSON(w, map[string]any{
			"username": profile.Username,
			"stats":    analysis.Summarize(inputs),
		})
	}
}
