package ingest

import (
	"fmt"
	"time"
)

// The scrape provider is not consistent about field names across actor
// versions, so every extracted field declares its accepted source keys once,
// in priority order. All tolerance lives here; callers see clean structs.

type rawProfile struct {
	ExternalID     string
	FullName       string
	Biography      string
	FollowersCount int
	FollowingCount int
	PostsCount     int
	ProfilePicURL  string
	IsBusiness     bool
	Category       string
}

type rawPost struct {
	ExternalID       string
	Shortcode        string
	ContentType      string
	URL              string
	Caption          string
	PostedAt         *time.Time
	LikesCount       int
	CommentsCount    int
	ViewsCount       *int
	DisplayURL       string
	IsVideo          bool
	Hashtags         []string
	Mentions         []string
	ProductType      string
	CommentsDisabled *bool
}

// normalizeProfile extracts profile fields from a raw provider item. The
// item may be a rich "details" result or a legacy combined post carrying
// owner* fields; both key sets are accepted.
func normalizeProfile(item map[string]any) rawProfile {
	return rawProfile{
		ExternalID:     getString(item, "id", "pk", "userId", "ownerId"),
		FullName:       getString(item, "fullName", "full_name", "ownerFullName", "name"),
		Biography:      getString(item, "biography", "bio"),
		FollowersCount: getInt(item, "followersCount", "follower_count"),
		FollowingCount: getInt(item, "followsCount", "followingCount", "following_count"),
		PostsCount:     getInt(item, "postsCount", "mediaCount", "posts_count"),
		ProfilePicURL:  getString(item, "profilePicUrlHD", "profilePicUrl", "profile_pic_url"),
		IsBusiness:     getBool(item, "isBusinessAccount", "is_business_account"),
		Category:       getString(item, "businessCategoryName", "category"),
	}
}

// normalizePost extracts post fields from a raw provider item. Returns an
// error when the item lacks a usable external id; such items cannot be
// keyed and are skipped by the caller.
func normalizePost(item map[string]any) (rawPost, error) {
	externalID := getString(item, "id", "pk")
	if externalID == "" {
		return rawPost{}, fmt.Errorf("post item has no external id")
	}

	p := rawPost{
		ExternalID:    externalID,
		Shortcode:     getString(item, "shortCode", "shortcode", "code"),
		ContentType:   getString(item, "type", "__typename"),
		URL:           getString(item, "url", "permalink"),
		Caption:       getString(item, "caption", "text"),
		PostedAt:      getTime(item, "timestamp", "takenAt", "taken_at"),
		LikesCount:    getInt(item, "likesCount", "like_count"),
		CommentsCount: getInt(item, "commentsCount", "comment_count"),
		DisplayURL:    getString(item, "displayUrl", "imageUrl", "display_url"),
		IsVideo:       getBool(item, "isVideo", "is_video"),
		Hashtags:      getStringSlice(item, "hashtags"),
		Mentions:      getStringSlice(item, "mentions"),
		ProductType:   getString(item, "productType"),
	}

	if v, ok := lookupInt(item, "videoViewCount", "viewCount", "video_view_count"); ok {
		p.ViewsCount = &v
	}
	if v, ok := lookupBool(item, "isCommentsDisabled", "commentsDisabled"); ok {
		p.CommentsDisabled = &v
	}
	return p, nil
}

// ownerUsername pulls the embedded owner handle out of a legacy combined
// item, for the mismatch warning on the legacy reconcile path.
func ownerUsername(item map[string]any) string {
	return getString(item, "ownerUsername", "owner_username", "username")
}

// --- tolerant accessors ---

func getString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := item[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func getInt(item map[string]any, keys ...string) int {
	v, _ := lookupInt(item, keys...)
	return v
}

func lookupInt(item map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := item[k].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		}
	}
	return 0, false
}

func getBool(item map[string]any, keys ...string) bool {
	v, _ := lookupBool(item, keys...)
	return v
}

func lookupBool(item map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		if v, ok := item[k].(bool); ok {
			return v, true
		}
	}
	return false, false
}

func getStringSlice(item map[string]any, keys ...string) []string {
	for _, k := range keys {
		raw, ok := item[k].([]any)
		if !ok {
			continue
		}
		var out []string
		for _, e := range raw {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// getTime accepts RFC3339 strings and unix-seconds numbers.
func getTime(item map[string]any, keys ...string) *time.Time {
	for _, k := range keys {
		switch v := item[k].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				t = t.UTC()
				return &t
			}
		case float64:
			t := time.Unix(int64(v), 0).UTC()
			return &t
		}
	}
	return nil
}
