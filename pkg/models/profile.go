package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is one analyzed Instagram account, unique per (tenant, username).
// ProfilePicURL is stored in proxied form when the original points at an
// Instagram CDN host.
type Profile struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	TenantID       uuid.UUID `db:"tenant_id"       json:"tenant_id"`
	Username       string    `db:"username"        json:"username"`
	FullName       string    `db:"full_name"       json:"full_name"`
	Biography      string    `db:"biography"       json:"biography"`
	FollowersCount int       `db:"followers_count" json:"followers_count"`
	FollowingCount int       `db:"following_count" json:"following_count"`
	PostsCount     int       `db:"posts_count"     json:"posts_count"`
	ProfilePicURL  string    `db:"profile_pic_url" json:"profile_pic_url"`
	IsBusiness     bool      `db:"is_business"     json:"is_business"`
	Category       *string   `db:"category"        json:"category,omitempty"`
	// ExternalID is Instagram's id for the account when the scrape returned
	// one, otherwise a generated temp_<ts>_<username> token so the row never
	// lacks an identifier.
	ExternalID string    `db:"external_id" json:"external_id"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
