// Package analysis computes engagement statistics over stored posts.
// Everything here is pure in-memory aggregation; persistence stays in store.
package analysis

import (
	"sort"
	"strings"
	"time"
)

// PostInput is the subset of a post the aggregator reads. Declared locally
// so the package has no dependency on the storage models.
type PostInput struct {
	LikesCount    int
	CommentsCount int
	ViewsCount    *int
	ContentType   string
	IsVideo       bool
	Hashtags      []string
	PostedAt      *time.Time
}

// HashtagCount is one hashtag with its number of occurrences.
type HashtagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// ProfileStats summarizes engagement across a profile's stored posts.
type ProfileStats struct {
	PostCount       int            `json:"post_count"`
	VideoCount      int            `json:"video_count"`
	TotalLikes      int            `json:"total_likes"`
	TotalComments   int            `json:"total_comments"`
	TotalViews      int            `json:"total_views"`
	AvgLikes        float64        `json:"avg_likes"`
	AvgComments     float64        `json:"avg_comments"`
	TopHashtags     []HashtagCount `json:"top_hashtags"`
	ContentTypes    map[string]int `json:"content_types"`
	FirstPostedAt   *time.Time     `json:"first_posted_at,omitempty"`
	LastPostedAt    *time.Time     `json:"last_posted_at,omitempty"`
	PostsPerWeek    float64        `json:"posts_per_week"`
	EngagementTotal int            `json:"engagement_total"`
}

const topHashtagLimit = 10

// Summarize aggregates posts into ProfileStats. Returns zero-valued stats
// for empty input (never nil maps).
func Summarize(posts []PostInput) ProfileStats {
	stats := ProfileStats{
		ContentTypes: make(map[string]int),
		TopHashtags:  []HashtagCount{},
	}
	if len(posts) == 0 {
		return stats
	}

	tagCounts := make(map[string]int)
	var firstNano, lastNano int64

	for _, post := range posts {
		stats.PostCount++
		if post.IsVideo {
			stats.VideoCount++
		}
		stats.TotalLikes += post.LikesCount
		stats.TotalComments += post.CommentsCount
		if post.ViewsCount != nil {
			stats.TotalViews += *post.ViewsCount
		}

		if post.ContentType != "" {
			stats.ContentTypes[post.ContentType]++
		}

		for _, tag := range post.Hashtags {
			tag = strings.ToLower(strings.TrimPrefix(tag, "#"))
			if tag == "" {
				continue
			}
			tagCounts[tag]++
		}

		if post.PostedAt != nil {
			nano := post.PostedAt.UnixNano()
			if firstNano == 0 || nano < firstNano {
				firstNano = nano
			}
			if nano > lastNano {
				lastNano = nano
			}
		}
	}

	stats.AvgLikes = float64(stats.TotalLikes) / float64(stats.PostCount)
	stats.AvgComments = float64(stats.TotalComments) / float64(stats.PostCount)
	stats.EngagementTotal = stats.TotalLikes + stats.TotalComments
	stats.TopHashtags = topHashtags(tagCounts, topHashtagLimit)

	if firstNano != 0 {
		first := time.Unix(0, firstNano).UTC()
		last := time.Unix(0, lastNano).UTC()
		stats.FirstPostedAt = &first
		stats.LastPostedAt = &last

		span := last.Sub(first)
		if span > 0 {
			stats.PostsPerWeek = float64(stats.PostCount) / (span.Hours() / (24 * 7))
		}
	}

	return stats
}

// topHashtags sorts by count descending, ties broken alphabetically so the
// output is deterministic.
func topHashtags(counts map[string]int, limit int) []HashtagCount {
	out := make([]HashtagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, HashtagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
