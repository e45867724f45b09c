package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kavyanair/gramscope/internal/store"
	"github.com/kavyanair/gramscope/pkg/models"
)

// Gateway converts raw provider items into domain records and persists them
// idempotently. Profiles upsert by (tenant, username); posts are written one
// by one so a bad item never poisons the batch.
type Gateway struct {
	store store.Store
	now   func() time.Time
}

// NewGateway creates a new Gateway.
func NewGateway(s store.Store) *Gateway {
	return &Gateway{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// SaveResult reports per-item outcomes of a post batch.
type SaveResult struct {
	Saved  int `json:"saved"`
	Failed int `json:"failed"`
}

// SaveProfileMetadata upserts the profile row for username from a raw
// details item. When the provider supplies no account id, a synthetic
// temp_<timestamp>_<username> token is generated so the row never lacks an
// identifier.
func (g *Gateway) SaveProfileMetadata(ctx context.Context, tenantID uuid.UUID, item map[string]any, username string) (*models.Profile, error) {
	raw := normalizeProfile(item)

	externalID := raw.ExternalID
	if externalID == "" {
		externalID = fmt.Sprintf("temp_%d_%s", g.now().UnixMilli(), username)
	}

	var category *string
	if raw.Category != "" {
		category = &raw.Category
	}

	now := g.now()
	profile := &models.Profile{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Username:       username,
		FullName:       raw.FullName,
		Biography:      raw.Biography,
		FollowersCount: raw.FollowersCount,
		FollowingCount: raw.FollowingCount,
		PostsCount:     raw.PostsCount,
		ProfilePicURL:  RewriteMediaURL(raw.ProfilePicURL),
		IsBusiness:     raw.IsBusiness,
		Category:       category,
		ExternalID:     externalID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	saved, err := g.store.UpsertProfile(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("saving profile %s: %w", username, err)
	}
	return saved, nil
}

// SavePosts persists each raw item against profile, check-then-update-or-
// insert per item. Items without a usable external id are counted as failed
// and skipped. The batch succeeds as long as at least one item saved, or the
// input was empty; it fails only when every item failed.
func (g *Gateway) SavePosts(ctx context.Context, items []map[string]any, profile *models.Profile) (SaveResult, error) {
	var result SaveResult

	for _, item := range items {
		raw, err := normalizePost(item)
		if err != nil {
			slog.Warn("skipping post item", "username", profile.Username, "error", err)
			result.Failed++
			continue
		}
		if err := g.savePost(ctx, raw, profile.ID); err != nil {
			slog.Warn("failed to save post", "username", profile.Username,
				"external_id", raw.ExternalID, "error", err)
			result.Failed++
			continue
		}
		result.Saved++
	}

	if len(items) > 0 && result.Saved == 0 {
		return result, fmt.Errorf("%w: %d items", ErrAllPostsFailed, result.Failed)
	}
	return result, nil
}

func (g *Gateway) savePost(ctx context.Context, raw rawPost, profileID uuid.UUID) error {
	var productType *string
	if raw.ProductType != "" {
		productType = &raw.ProductType
	}

	now := g.now()
	post := &models.Post{
		ID:               uuid.New(),
		ProfileID:        profileID,
		ExternalID:       raw.ExternalID,
		Shortcode:        raw.Shortcode,
		ContentType:      raw.ContentType,
		URL:              raw.URL,
		Caption:          raw.Caption,
		PostedAt:         raw.PostedAt,
		LikesCount:       raw.LikesCount,
		CommentsCount:    raw.CommentsCount,
		ViewsCount:       raw.ViewsCount,
		DisplayURL:       RewriteMediaURL(raw.DisplayURL),
		IsVideo:          raw.IsVideo,
		Hashtags:         raw.Hashtags,
		Mentions:         raw.Mentions,
		ProductType:      productType,
		CommentsDisabled: raw.CommentsDisabled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err := g.store.GetPostByExternalID(ctx, profileID, raw.ExternalID)
	switch {
	case err == nil:
		return g.store.UpdatePost(ctx, post)
	case errors.Is(err, store.ErrNotFound):
		if err := g.store.InsertPost(ctx, post); err != nil {
			// Lost an insert race with a concurrent reconcile; the row exists
			// now, so update it instead.
			if errors.Is(err, store.ErrDuplicateKey) {
				return g.store.UpdatePost(ctx, post)
			}
			return err
		}
		return nil
	default:
		return err
	}
}
