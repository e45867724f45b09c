// Package ingest implements the Instagram ingestion pipeline: the scrape job
// lifecycle coordinator, the reconciliation of finished remote runs into
// profile and post rows, and the polling scheduler that drives both.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kavyanair/gramscope/internal/apify"
	"github.com/kavyanair/gramscope/internal/cache"
	"github.com/kavyanair/gramscope/internal/store"
	"github.com/kavyanair/gramscope/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// AnalyzeParams are the caller's options for an analysis request.
// ResultsLimit == 1 means profile metadata only, no posts run.
type AnalyzeParams struct {
	ResultsLimit       int
	OnlyPostsNewerThan string
}

// Outcome tells the caller what the coordinator did with their request.
type Outcome string

const (
	OutcomeStarted         Outcome = "started"
	OutcomeAlreadyRunning  Outcome = "already_running"
	OutcomeAlreadyAnalyzed Outcome = "already_analyzed"
	OutcomeReconciled      Outcome = "reconciled"
)

// AnalysisResponse is the result of RequestAnalysis.
type AnalysisResponse struct {
	Outcome Outcome             `json:"outcome"`
	Jobs    []*models.ScrapeJob `json:"jobs"`
}

// Coordinator orchestrates the scrape job state machine: job creation with
// duplicate detection, the split into profile and posts runs, polling
// advance, and exactly-once reconciliation. The job store is the source of
// truth; every transition goes through it and nothing is assumed written
// when a store call fails.
type Coordinator struct {
	store    store.Store
	provider apify.Client
	gateway  *Gateway
	cache    cache.Cache
	poller   *Poller

	// mu serializes RequestAnalysis so two concurrent requests for the same
	// username cannot both miss the other's jobs and start duplicate runs.
	mu sync.Mutex
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(st store.Store, provider apify.Client, gw *Gateway, ca cache.Cache) *Coordinator {
	return &Coordinator{store: st, provider: provider, gateway: gw, cache: ca}
}

// AttachPoller hands the coordinator the poller to wake when new jobs are
// created. Optional; without one, jobs advance only when PollActiveJobs is
// called directly.
func (c *Coordinator) AttachPoller(p *Poller) {
	c.poller = p
}

// RequestAnalysis is the entry point for "analyze this account". It reuses
// or repairs prior jobs for the username where possible and starts new
// remote runs only when no usable job exists.
func (c *Coordinator) RequestAnalysis(ctx context.Context, tenantID uuid.UUID, username string, params AnalyzeParams) (*AnalysisResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.credentialToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	jobs, err := c.store.ListJobsForUsername(ctx, tenantID, username)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for %s: %w", username, err)
	}

	if prior := selectRelevantJob(jobs); prior != nil {
		resp, handled, err := c.handlePriorJob(ctx, prior, token)
		if handled {
			return resp, err
		}
	}

	return c.startJobs(ctx, tenantID, username, token, params)
}

// selectRelevantJob picks the single most relevant prior job from a
// newest-first list, by status priority.
func selectRelevantJob(jobs []*models.ScrapeJob) *models.ScrapeJob {
	byStatus := func(statuses ...string) *models.ScrapeJob {
		for _, j := range jobs {
			for _, s := range statuses {
				if j.Status == s {
					return j
				}
			}
		}
		return nil
	}
	if j := byStatus(models.JobStatusCompleted); j != nil {
		return j
	}
	if j := byStatus(models.JobStatusApifySucceeded); j != nil {
		return j
	}
	if j := byStatus(models.JobStatusProcessingData); j != nil {
		return j
	}
	return byStatus(models.JobStatusPending, models.JobStatusProcessing)
}

// handlePriorJob decides what an existing job means for a new request.
// handled=false tells the caller to fall through and start fresh jobs.
func (c *Coordinator) handlePriorJob(ctx context.Context, prior *models.ScrapeJob, token string) (*AnalysisResponse, bool, error) {
	switch prior.Status {
	case models.JobStatusPending, models.JobStatusProcessing, models.JobStatusProcessingData:
		return &AnalysisResponse{Outcome: OutcomeAlreadyRunning, Jobs: []*models.ScrapeJob{prior}}, true, nil

	case models.JobStatusApifySucceeded:
		if err := c.Reconcile(ctx, prior, token); err != nil {
			return nil, true, err
		}
		return c.reconciledResponse(ctx, prior)

	case models.JobStatusCompleted:
		_, err := c.store.GetProfileByUsername(ctx, prior.TenantID, prior.Username)
		if err == nil {
			return &AnalysisResponse{Outcome: OutcomeAlreadyAnalyzed, Jobs: []*models.ScrapeJob{prior}}, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, true, fmt.Errorf("checking profile for %s: %w", prior.Username, err)
		}
		// Job bookkeeping says completed but the profile row is gone. With a
		// dataset still on record the job can be reopened and reconciled
		// again; without one only a fresh scrape can recover.
		if prior.ApifyDatasetID == nil {
			return nil, false, nil
		}
		slog.Warn("reopening completed job without profile row",
			"job_id", prior.ID, "username", prior.Username)
		reopened, err := c.store.UpdateJob(ctx, prior.ID,
			store.WithStatus(models.JobStatusApifySucceeded),
			store.WithJobError("reopened: completed without a profile row"))
		if err != nil {
			return nil, true, fmt.Errorf("reopening job %s: %w", prior.ID, err)
		}
		if err := c.Reconcile(ctx, reopened, token); err != nil {
			return nil, true, err
		}
		return c.reconciledResponse(ctx, reopened)
	}
	// Terminal failures fall through to a fresh attempt.
	return nil, false, nil
}

func (c *Coordinator) reconciledResponse(ctx context.Context, job *models.ScrapeJob) (*AnalysisResponse, bool, error) {
	refreshed, err := c.store.GetJob(ctx, job.ID)
	if err != nil {
		refreshed = job
	}
	return &AnalysisResponse{Outcome: OutcomeReconciled, Jobs: []*models.ScrapeJob{refreshed}}, true, nil
}

// startJobs creates the profile job (plus posts job unless the caller asked
// for metadata only), starts the remote runs, and records run ids in both
// jobs' details so the job kind stays recoverable for rows missing job_type.
func (c *Coordinator) startJobs(ctx context.Context, tenantID uuid.UUID, username, token string, params AnalyzeParams) (*AnalysisResponse, error) {
	now := time.Now().UTC()
	details := models.JobDetails{
		ResultsLimit:       params.ResultsLimit,
		OnlyPostsNewerThan: params.OnlyPostsNewerThan,
	}

	profileJob := &models.ScrapeJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Username:  username,
		JobType:   models.JobTypeProfileDetails,
		Status:    models.JobStatusPending,
		Details:   details,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateJob(ctx, profileJob); err != nil {
		return nil, fmt.Errorf("creating profile job: %w", err)
	}
	c.cacheStatus(ctx, profileJob.ID, models.JobStatusPending)

	wantPosts := params.ResultsLimit != 1

	var postsJob *models.ScrapeJob
	if wantPosts {
		postsJob = &models.ScrapeJob{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Username:    username,
			JobType:     models.JobTypePosts,
			Status:      models.JobStatusPending,
			ParentJobID: &profileJob.ID,
			Details:     details,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := c.store.CreateJob(ctx, postsJob); err != nil {
			c.failJob(ctx, profileJob.ID, models.JobStatusApifyFailed, "sibling posts job could not be created")
			return nil, fmt.Errorf("creating posts job: %w", err)
		}
		c.cacheStatus(ctx, postsJob.ID, models.JobStatusPending)
	}

	profileRunID, err := c.provider.StartProfileRun(ctx, token, username)
	if err != nil {
		c.failStart(ctx, err, profileJob, postsJob)
		return nil, fmt.Errorf("starting profile run: %w", err)
	}

	var postsRunID string
	if wantPosts {
		postsRunID, err = c.provider.StartPostsRun(ctx, token, username, apify.RunParams{
			ResultsLimit:       params.ResultsLimit,
			OnlyPostsNewerThan: params.OnlyPostsNewerThan,
		})
		if err != nil {
			c.failStart(ctx, err, profileJob, postsJob)
			return nil, fmt.Errorf("starting posts run: %w", err)
		}
	}

	details.ProfileRunID = profileRunID
	details.PostsRunID = postsRunID

	profileJob, err = c.store.UpdateJob(ctx, profileJob.ID,
		store.WithStatus(models.JobStatusProcessing),
		store.WithRunID(profileRunID),
		store.WithDetails(details))
	if err != nil {
		return nil, fmt.Errorf("recording profile run: %w", err)
	}
	c.cacheStatus(ctx, profileJob.ID, models.JobStatusProcessing)

	jobs := []*models.ScrapeJob{profileJob}
	if postsJob != nil {
		postsJob, err = c.store.UpdateJob(ctx, postsJob.ID,
			store.WithStatus(models.JobStatusProcessing),
			store.WithRunID(postsRunID),
			store.WithDetails(details))
		if err != nil {
			return nil, fmt.Errorf("recording posts run: %w", err)
		}
		c.cacheStatus(ctx, postsJob.ID, models.JobStatusProcessing)
		jobs = append(jobs, postsJob)
	}

	slog.Info("scrape jobs started", "username", username,
		"profile_run_id", profileRunID, "posts_run_id", postsRunID)
	c.kickPoller()

	return &AnalysisResponse{Outcome: OutcomeStarted, Jobs: jobs}, nil
}

// failStart marks every job of a failed start attempt apify_failed.
func (c *Coordinator) failStart(ctx context.Context, cause error, jobs ...*models.ScrapeJob) {
	for _, job := range jobs {
		if job == nil {
			continue
		}
		c.failJob(ctx, job.ID, models.JobStatusApifyFailed, cause.Error())
	}
}

// PollActiveJobs runs one poll cycle: advance every processing job from its
// remote run's status, then reconcile everything that has a finished
// dataset. Returns how many jobs still need polling after the pass.
func (c *Coordinator) PollActiveJobs(ctx context.Context) (int, error) {
	running, err := c.store.ListJobsByStatus(ctx, models.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("listing running jobs: %w", err)
	}

	tokens := map[uuid.UUID]string{}
	for _, job := range running {
		token, err := c.tenantToken(ctx, tokens, job.TenantID)
		if err != nil {
			slog.Warn("cannot poll job without credential", "job_id", job.ID, "error", err)
			continue
		}
		c.advanceRunningJob(ctx, job, token)
	}

	succeeded, err := c.store.ListJobsByStatus(ctx, models.JobStatusApifySucceeded)
	if err != nil {
		return 0, fmt.Errorf("listing succeeded jobs: %w", err)
	}
	// Profile jobs reconcile first so a posts job finishing in the same
	// cycle finds its parent's profile already written.
	sort.SliceStable(succeeded, func(i, j int) bool {
		return succeeded[i].JobType == models.JobTypeProfileDetails &&
			succeeded[j].JobType != models.JobTypeProfileDetails
	})
	for _, job := range succeeded {
		token, err := c.tenantToken(ctx, tokens, job.TenantID)
		if err != nil {
			slog.Warn("cannot reconcile job without credential", "job_id", job.ID, "error", err)
			continue
		}
		if err := c.Reconcile(ctx, job, token); err != nil {
			slog.Error("reconcile failed", "job_id", job.ID, "username", job.Username, "error", err)
		}
	}

	outstanding, err := c.store.ListJobsByStatus(ctx, models.JobStatusProcessing, models.JobStatusApifySucceeded)
	if err != nil {
		return 0, fmt.Errorf("counting outstanding jobs: %w", err)
	}
	return len(outstanding), nil
}

// advanceRunningJob moves one processing job according to its remote run's
// status. Transient provider errors leave the job processing for the next
// cycle; an unknown run id is permanent and fails the job.
func (c *Coordinator) advanceRunningJob(ctx context.Context, job *models.ScrapeJob, token string) {
	if job.ApifyRunID == nil {
		c.failJob(ctx, job.ID, models.JobStatusApifyFailed, "job is processing without a run id")
		return
	}

	state, err := c.provider.PollRunStatus(ctx, token, *job.ApifyRunID)
	if err != nil {
		if errors.Is(err, apify.ErrRunNotFound) {
			c.failJob(ctx, job.ID, models.JobStatusApifyFailed, err.Error())
			return
		}
		slog.Warn("poll error, will retry", "job_id", job.ID, "run_id", *job.ApifyRunID, "error", err)
		return
	}

	switch state.Status {
	case apify.StatusSucceeded:
		if _, err := c.store.UpdateJob(ctx, job.ID,
			store.WithStatus(models.JobStatusApifySucceeded),
			store.WithDatasetID(state.DatasetID),
			store.ClearJobError()); err != nil {
			slog.Error("failed to record run success", "job_id", job.ID, "error", err)
			return
		}
		c.cacheStatus(ctx, job.ID, models.JobStatusApifySucceeded)
	case apify.StatusFailed, apify.StatusAborted:
		c.failJob(ctx, job.ID, models.JobStatusApifyFailed,
			fmt.Sprintf("apify run %s ended with status %s", *job.ApifyRunID, state.Status))
	case apify.StatusTimedOut:
		c.failJob(ctx, job.ID, models.JobStatusApifyTimedOut,
			fmt.Sprintf("apify run %s timed out", *job.ApifyRunID))
	default:
		// still running
	}
}

// Reconcile converts a job's finished dataset into domain records exactly
// once. The atomic claim from apify_succeeded to processing_data is the
// re-entrancy guard: a second caller loses the claim and returns without
// touching the save logic.
func (c *Coordinator) Reconcile(ctx context.Context, job *models.ScrapeJob, token string) error {
	switch job.Status {
	case models.JobStatusProcessingData, models.JobStatusCompleted, models.JobStatusFailedProcessing:
		return nil
	}

	claimed, err := c.store.ClaimJob(ctx, job.ID,
		[]string{models.JobStatusApifySucceeded}, models.JobStatusProcessingData)
	if err != nil {
		return fmt.Errorf("claiming job %s: %w", job.ID, err)
	}
	if !claimed {
		return nil
	}
	c.cacheStatus(ctx, job.ID, models.JobStatusProcessingData)

	if job.ApifyDatasetID == nil {
		err := fmt.Errorf("job %s succeeded without a dataset id", job.ID)
		c.failJob(ctx, job.ID, models.JobStatusFailedProcessing, err.Error())
		return err
	}

	var rerr error
	switch c.resolveJobKind(ctx, job) {
	case kindMetadata:
		rerr = c.reconcileProfile(ctx, job, token)
	case kindPosts:
		rerr = c.reconcilePosts(ctx, job, token)
	default:
		rerr = c.reconcileLegacy(ctx, job, token)
	}
	if rerr != nil {
		c.failJob(ctx, job.ID, models.JobStatusFailedProcessing, rerr.Error())
		return rerr
	}

	if _, err := c.store.UpdateJob(ctx, job.ID,
		store.WithStatus(models.JobStatusCompleted),
		store.ClearJobError()); err != nil {
		return fmt.Errorf("marking job %s completed: %w", job.ID, err)
	}
	c.cacheStatus(ctx, job.ID, models.JobStatusCompleted)
	return nil
}

// Job kinds resolved once at the start of reconciliation.
type jobKind int

const (
	kindLegacy jobKind = iota
	kindMetadata
	kindPosts
)

// resolveJobKind determines what a job's dataset contains. The job_type tag
// is authoritative; rows missing it (written before the split, or partially
// written) are classified by matching their run id against the sibling run
// ids in their own or their parent's details bag. Anything still unresolved
// is treated as a legacy combined payload.
func (c *Coordinator) resolveJobKind(ctx context.Context, job *models.ScrapeJob) jobKind {
	switch job.JobType {
	case models.JobTypeProfileDetails:
		return kindMetadata
	case models.JobTypePosts:
		return kindPosts
	}

	if job.ApifyRunID != nil {
		runID := *job.ApifyRunID
		if kind, ok := kindFromDetails(job.Details, runID); ok {
			return kind
		}
		if job.ParentJobID != nil {
			if parent, err := c.store.GetJob(ctx, *job.ParentJobID); err == nil {
				if kind, ok := kindFromDetails(parent.Details, runID); ok {
					return kind
				}
			}
		}
	}
	return kindLegacy
}

func kindFromDetails(details models.JobDetails, runID string) (jobKind, bool) {
	if details.ProfileRunID != "" && details.ProfileRunID == runID {
		return kindMetadata, true
	}
	if details.PostsRunID != "" && details.PostsRunID == runID {
		return kindPosts, true
	}
	return kindLegacy, false
}

func (c *Coordinator) reconcileProfile(ctx context.Context, job *models.ScrapeJob, token string) error {
	items, err := c.provider.FetchDatasetItems(ctx, token, *job.ApifyDatasetID)
	if err != nil {
		return fmt.Errorf("fetching dataset %s: %w", *job.ApifyDatasetID, err)
	}
	if len(items) == 0 {
		return fmt.Errorf("dataset %s returned no profile item", *job.ApifyDatasetID)
	}

	profile, err := c.gateway.SaveProfileMetadata(ctx, job.TenantID, items[0], job.Username)
	if err != nil {
		return err
	}

	// Record the profile id so the dependent posts job can attach without a
	// name lookup, which is unreliable when the provider returns a different
	// username than requested.
	details := job.Details
	details.ProfileID = &profile.ID
	if _, err := c.store.UpdateJob(ctx, job.ID, store.WithDetails(details)); err != nil {
		return fmt.Errorf("recording profile id on job %s: %w", job.ID, err)
	}
	return nil
}

func (c *Coordinator) reconcilePosts(ctx context.Context, job *models.ScrapeJob, token string) error {
	profile, err := c.resolveTargetProfile(ctx, job)
	if err != nil {
		return err
	}

	items, err := c.provider.FetchDatasetItems(ctx, token, *job.ApifyDatasetID)
	if err != nil {
		return fmt.Errorf("fetching dataset %s: %w", *job.ApifyDatasetID, err)
	}

	result, err := c.gateway.SavePosts(ctx, items, profile)
	if err != nil {
		return err
	}
	slog.Info("posts reconciled", "job_id", job.ID, "username", job.Username,
		"saved", result.Saved, "failed", result.Failed)
	return nil
}

// resolveTargetProfile finds the profile a posts job belongs to: the parent
// job's recorded profile id first, then the parent's username, then a
// direct username lookup when no parent is linked. A posts job never
// creates a profile.
func (c *Coordinator) resolveTargetProfile(ctx context.Context, job *models.ScrapeJob) (*models.Profile, error) {
	if job.ParentJobID != nil {
		parent, err := c.store.GetJob(ctx, *job.ParentJobID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading parent job: %w", err)
		}
		if parent != nil {
			if parent.Details.ProfileID != nil {
				profile, err := c.store.GetProfileByID(ctx, *parent.Details.ProfileID)
				if err == nil {
					return profile, nil
				}
				if !errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("loading profile by id: %w", err)
				}
			}
			profile, err := c.store.GetProfileByUsername(ctx, parent.TenantID, parent.Username)
			if err == nil {
				return profile, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("loading profile by username: %w", err)
			}
		}
		return nil, fmt.Errorf("%w: parent job %s has not produced a profile", ErrProfileResolution, *job.ParentJobID)
	}

	profile, err := c.store.GetProfileByUsername(ctx, job.TenantID, job.Username)
	if err == nil {
		return profile, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no profile for %s", ErrProfileResolution, job.Username)
	}
	return nil, fmt.Errorf("looking up profile: %w", err)
}

// reconcileLegacy handles combined datasets from before the profile/posts
// split: the first item carries the owner fields, the rest are posts.
func (c *Coordinator) reconcileLegacy(ctx context.Context, job *models.ScrapeJob, token string) error {
	items, err := c.provider.FetchDatasetItems(ctx, token, *job.ApifyDatasetID)
	if err != nil {
		return fmt.Errorf("fetching dataset %s: %w", *job.ApifyDatasetID, err)
	}
	if len(items) == 0 {
		return fmt.Errorf("dataset %s is empty", *job.ApifyDatasetID)
	}

	first := items[0]
	if owner := ownerUsername(first); owner != "" && owner != job.Username {
		// Best-effort attach: the provider sometimes returns a different
		// handle than requested.
		slog.Warn("dataset owner differs from requested username",
			"job_id", job.ID, "requested", job.Username, "owner", owner)
	}

	profile, err := c.gateway.SaveProfileMetadata(ctx, job.TenantID, first, job.Username)
	if err != nil {
		return err
	}
	if len(items) > 1 {
		if _, err := c.gateway.SavePosts(ctx, items[1:], profile); err != nil {
			return err
		}
	}
	return nil
}

// --- helpers ---

func (c *Coordinator) credentialToken(ctx context.Context, tenantID uuid.UUID) (string, error) {
	cred, err := c.store.GetCredential(ctx, tenantID, models.CredentialServiceApify)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("loading apify credential: %w", err)
	}
	return cred.Token, nil
}

// tenantToken memoizes credential lookups within one poll cycle.
func (c *Coordinator) tenantToken(ctx context.Context, memo map[uuid.UUID]string, tenantID uuid.UUID) (string, error) {
	if token, ok := memo[tenantID]; ok {
		return token, nil
	}
	token, err := c.credentialToken(ctx, tenantID)
	if err != nil {
		return "", err
	}
	memo[tenantID] = token
	return token, nil
}

func (c *Coordinator) failJob(ctx context.Context, id uuid.UUID, status, msg string) {
	if _, err := c.store.UpdateJob(ctx, id,
		store.WithStatus(status),
		store.WithJobError(msg)); err != nil {
		slog.Error("failed to record job failure", "job_id", id, "status", status, "error", err)
		return
	}
	c.cacheStatus(ctx, id, status)
}

// cacheStatus mirrors a transition into the cache for cheap UI polling.
// Best effort: a cache miss never blocks the pipeline.
func (c *Coordinator) cacheStatus(ctx context.Context, id uuid.UUID, status string) {
	if c.cache != nil {
		_ = c.cache.SetJobStatus(ctx, id, status, jobStatusTTL)
	}
}

func (c *Coordinator) kickPoller() {
	if c.poller != nil {
		c.poller.Kick()
	}
}
