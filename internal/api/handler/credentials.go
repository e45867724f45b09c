package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kavyanair/gramscope/internal/api/middleware"
	"github.com/kavyanair/gramscope/internal/api/response"
	"github.com/kavyanair/gramscope/internal/store"
	"github.com/kavyanair/gramscope/pkg/models"
)

var validCredentialServices = map[string]bool{
	models.CredentialServiceApify:   true,
	models.CredentialServiceYouTube: true,
	models.CredentialServiceOpenAI:  true,
}

// NewUpsertCredentialHandler returns an http.HandlerFunc for
// PUT /api/v1/credentials/{service}. Posting the same service again
// replaces the stored token.
func NewUpsertCredentialHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		service := strings.ToLower(chi.URLParam(r, "service"))
		if !validCredentialServices[service] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"service must be one of apify, youtube, openai", nil)
			return
		}

		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "token is required", nil)
			return
		}

		now := time.Now().UTC()
		cred, err := s.UpsertCredential(r.Context(), &models.ProviderCredential{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Service:   service,
			Token:     strings.TrimSpace(req.Token),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store credential", nil)
			return
		}

		response.JSON(w, cred)
	}
}

// NewListCredentialsHandler returns an http.HandlerFunc for GET /api/v1/credentials.
// Tokens are never echoed back; the listing shows which services are configured.
func NewListCredentialsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		creds, err := s.ListCredentials(r.Context(), tenantID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list credentials", nil)
			return
		}
		if creds == nil {
			creds = []*models.ProviderCredential{}
		}
		response.JSON(w, creds)
	}
}

// NewDeleteCredentialHandler returns an http.HandlerFunc for
// DELETE /api/v1/credentials/{service}.
func NewDeleteCredentialHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		service := strings.ToLower(chi.URLParam(r, "service"))
		if err := s.DeleteCredential(r.Context(), tenantID, service); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Credential not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to delete credential", nil)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
