package models

import (
	"time"

	"github.com/google/uuid"
)

// Post is one content item belonging to a Profile, unique per
// (profile_id, external_id). Rows are deleted with their profile.
type Post struct {
	ID               uuid.UUID  `db:"id"                json:"id"`
	ProfileID        uuid.UUID  `db:"profile_id"        json:"profile_id"`
	ExternalID       string     `db:"external_id"       json:"external_id"`
	Shortcode        string     `db:"shortcode"         json:"shortcode"`
	ContentType      string     `db:"content_type"      json:"content_type"`
	URL              string     `db:"url"               json:"url"`
	Caption          string     `db:"caption"           json:"caption"`
	PostedAt         *time.Time `db:"posted_at"         json:"posted_at,omitempty"`
	LikesCount       int        `db:"likes_count"       json:"likes_count"`
	CommentsCount    int        `db:"comments_count"    json:"comments_count"`
	ViewsCount       *int       `db:"views_count"       json:"views_count,omitempty"`
	DisplayURL       string     `db:"display_url"       json:"display_url"`
	IsVideo          bool       `db:"is_video"          json:"is_video"`
	Hashtags         []string   `db:"hashtags"          json:"hashtags,omitempty"`
	Mentions         []string   `db:"mentions"          json:"mentions,omitempty"`
	ProductType      *string    `db:"product_type"      json:"product_type,omitempty"`
	CommentsDisabled *bool      `db:"comments_disabled" json:"comments_disabled,omitempty"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}
