package models

import (
	"time"

	"github.com/google/uuid"
)

// Scrape job lifecycle statuses. A job is created in pending_apify, moves to
// processing_apify once a remote Apify run has been started for it, and then
// follows the run's outcome. processing_data marks reconciliation in flight.
const (
	JobStatusPending          = "pending_apify"
	JobStatusProcessing       = "processing_apify"
	JobStatusApifySucceeded   = "apify_succeeded"
	JobStatusApifyFailed      = "apify_failed"
	JobStatusApifyTimedOut    = "apify_timed_out"
	JobStatusProcessingData   = "processing_data"
	JobStatusCompleted        = "completed"
	JobStatusFailedProcessing = "failed_processing"
)

// Job types. Legacy rows created before the profile/posts split carry an
// empty job_type and hold a combined dataset.
const (
	JobTypeProfileDetails = "profile_details"
	JobTypePosts          = "posts"
)

// ScrapeJob is one unit of asynchronous scraping work. A single analyze
// request may fan out into a profile_details job plus a posts job linked
// through ParentJobID.
type ScrapeJob struct {
	ID             uuid.UUID  `db:"id"               json:"id"`
	TenantID       uuid.UUID  `db:"tenant_id"        json:"tenant_id"`
	Username       string     `db:"username"         json:"username"`
	JobType        string     `db:"job_type"         json:"job_type,omitempty"`
	Status         string     `db:"status"           json:"status"`
	ApifyRunID     *string    `db:"apify_run_id"     json:"apify_run_id,omitempty"`
	ApifyDatasetID *string    `db:"apify_dataset_id" json:"apify_dataset_id,omitempty"`
	ParentJobID    *uuid.UUID `db:"parent_job_id"    json:"parent_job_id,omitempty"`
	ErrorMessage   *string    `db:"error_message"    json:"error_message,omitempty"`
	Details        JobDetails `db:"details"          json:"details"`
	CreatedAt      time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"       json:"updated_at"`
}

// JobDetails is the open-ended coordination bag stored as JSONB alongside a
// job. It carries sibling run ids (so the job kind can be recovered for rows
// missing job_type), the caller's original scrape parameters, and, once the
// profile_details job has reconciled, the id of the profile row posts should
// attach to.
type JobDetails struct {
	ProfileRunID       string     `json:"profile_run_id,omitempty"`
	PostsRunID         string     `json:"posts_run_id,omitempty"`
	ResultsLimit       int        `json:"results_limit,omitempty"`
	OnlyPostsNewerThan string     `json:"only_posts_newer_than,omitempty"`
	ProfileID          *uuid.UUID `json:"profile_id,omitempty"`
}

// IsTerminal reports whether the status ends a job's lifecycle. Completed
// jobs can still be reopened by the coordinator's self-heal path when their
// reconciliation turns out to have been incomplete.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusApifyFailed, JobStatusApifyTimedOut, JobStatusCompleted, JobStatusFailedProcessing:
		return true
	}
	return false
}
