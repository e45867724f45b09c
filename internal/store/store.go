package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kavyanair/gramscope/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	UpsertCredential(ctx context.Context, cred *models.ProviderCredential) (*models.ProviderCredential, error)
	GetCredential(ctx context.Context, tenantID uuid.UUID, service string) (*models.ProviderCredential, error)
	ListCredentials(ctx context.Context, tenantID uuid.UUID) ([]*models.ProviderCredential, error)
	DeleteCredential(ctx context.Context, tenantID uuid.UUID, service string) error

	CreateJob(ctx context.Context, job *models.ScrapeJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)
	UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.ScrapeJob, error)
	// ClaimJob atomically moves a job from one of the given statuses to the
	// target status. Returns false without error when the job is not in any
	// of the from statuses, which callers use as a lost-race signal.
	ClaimJob(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error)
	ListJobsForTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.ScrapeJob, error)
	ListJobsForUsername(ctx context.Context, tenantID uuid.UUID, username string) ([]*models.ScrapeJob, error)
	ListJobsByStatus(ctx context.Context, statuses ...string) ([]*models.ScrapeJob, error)

	UpsertProfile(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	GetProfileByUsername(ctx context.Context, tenantID uuid.UUID, username string) (*models.Profile, error)
	GetProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	DeleteProfile(ctx context.Context, tenantID uuid.UUID, username string) error

	GetPostByExternalID(ctx context.Context, profileID uuid.UUID, externalID string) (*models.Post, error)
	InsertPost(ctx context.Context, post *models.Post) error
	UpdatePost(ctx context.Context, post *models.Post) error
	ListPostsForProfile(ctx context.Context, profileID uuid.UUID) ([]*models.Post, error)
}

// jobUpdateParams collects the optional fields a job update may touch.
// Identity fields (id, tenant_id, username, created_at) are never updatable
// through this path.
type jobUpdateParams struct {
	Status       *string
	RunID        *string
	DatasetID    *string
	ErrorMessage *string
	ClearError   bool
	Details      *models.JobDetails
}

type JobUpdateOption func(*jobUpdateParams)

func WithStatus(status string) JobUpdateOption {
	return func(p *jobUpdateParams) { p.Status = &status }
}

func WithRunID(runID string) JobUpdateOption {
	return func(p *jobUpdateParams) { p.RunID = &runID }
}

func WithDatasetID(datasetID string) JobUpdateOption {
	return func(p *jobUpdateParams) { p.DatasetID = &datasetID }
}

func WithJobError(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) { p.ErrorMessage = &msg }
}

func ClearJobError() JobUpdateOption {
	return func(p *jobUpdateParams) { p.ClearError = true }
}

func WithDetails(details models.JobDetails) JobUpdateOption {
	return func(p *jobUpdateParams) { p.Details = &details }
}

// ApplyJobUpdates applies update options to a job in memory. The Postgres
// store translates the same options into a SET clause; in-memory stores used
// in tests apply them through this to stay consistent with it.
func ApplyJobUpdates(job *models.ScrapeJob, opts ...JobUpdateOption) {
	var p jobUpdateParams
	for _, opt := range opts {
		opt(&p)
	}
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.RunID != nil {
		job.ApifyRunID = p.RunID
	}
	if p.DatasetID != nil {
		job.ApifyDatasetID = p.DatasetID
	}
	if p.ErrorMessage != nil {
		job.ErrorMessage = p.ErrorMessage
	}
	if p.ClearError {
		job.ErrorMessage = nil
	}
	if p.Details != nil {
		job.Details = *p.Details
	}
	job.UpdatedAt = time.Now().UTC()
}
