package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kavyanair/gramscope/internal/apify"
	"github.com/kavyanair/gramscope/internal/ingest"
	"github.com/kavyanair/gramscope/pkg/models"
)

func newTestCoordinator() (*fakeStore, *fakeProvider, *fakeCache, *ingest.Coordinator) {
	fs := newFakeStore()
	fp := newFakeProvider()
	fc := newFakeCache()
	co := ingest.NewCoordinator(fs, fp, ingest.NewGateway(fs), fc)
	return fs, fp, fc, co
}

func seedJob(fs *fakeStore, mutate func(*models.ScrapeJob)) *models.ScrapeJob {
	job := &models.ScrapeJob{
		ID:        uuid.New(),
		TenantID:  testTenantID,
		Username:  "natgeo",
		Status:    models.JobStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(job)
	}
	if err := fs.CreateJob(context.Background(), job); err != nil {
		panic(err)
	}
	return job
}

func strptr(s string) *string { return &s }

// ─────────────────────────────────────────────────────────────────────────
// RequestAnalysis
// ─────────────────────────────────────────────────────────────────────────

func TestRequestAnalysis_StartsProfileAndPostsJobs(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{ResultsLimit: 50})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if resp.Outcome != ingest.OutcomeStarted {
		t.Fatalf("outcome = %s, want started", resp.Outcome)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(resp.Jobs))
	}

	profileJob, postsJob := resp.Jobs[0], resp.Jobs[1]
	if profileJob.JobType != models.JobTypeProfileDetails {
		t.Errorf("first job type = %q, want profile_details", profileJob.JobType)
	}
	if postsJob.JobType != models.JobTypePosts {
		t.Errorf("second job type = %q, want posts", postsJob.JobType)
	}
	if postsJob.ParentJobID == nil || *postsJob.ParentJobID != profileJob.ID {
		t.Error("posts job is not linked to the profile job")
	}
	for _, job := range resp.Jobs {
		if job.Status != models.JobStatusProcessing {
			t.Errorf("job %s status = %s, want processing_apify", job.JobType, job.Status)
		}
		if job.ApifyRunID == nil {
			t.Errorf("job %s has no run id", job.JobType)
		}
		if job.Details.ProfileRunID == "" || job.Details.PostsRunID == "" {
			t.Errorf("job %s details is missing sibling run ids", job.JobType)
		}
	}
	if fs.jobCount() != 2 {
		t.Errorf("store has %d jobs, want 2", fs.jobCount())
	}
	if len(fp.postsRuns) != 1 || fp.postsRuns[0].ResultsLimit != 50 {
		t.Errorf("posts run params = %+v, want one run with limit 50", fp.postsRuns)
	}
}

func TestRequestAnalysis_MetadataOnlySkipsPostsJob(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "bob", ingest.AnalyzeParams{ResultsLimit: 1})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if len(resp.Jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(resp.Jobs))
	}
	if resp.Jobs[0].JobType != models.JobTypeProfileDetails {
		t.Errorf("job type = %q, want profile_details", resp.Jobs[0].JobType)
	}
	if len(fp.postsRuns) != 0 {
		t.Errorf("started %d posts runs, want 0", len(fp.postsRuns))
	}
	if fs.jobCount() != 1 {
		t.Errorf("store has %d jobs, want 1", fs.jobCount())
	}
}

func TestRequestAnalysis_NoCredentialFailsBeforeCreatingJobs(t *testing.T) {
	fs, _, _, co := newTestCoordinator()
	delete(fs.creds, testTenantID.String()+"/apify")

	_, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if !errors.Is(err, ingest.ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
	if fs.jobCount() != 0 {
		t.Errorf("store has %d jobs, want 0", fs.jobCount())
	}
}

func TestRequestAnalysis_ProviderFailureMarksJobsFailed(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	fp.startProfileErr = apify.ErrProviderRejected

	_, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if err == nil {
		t.Fatal("expected error from provider rejection")
	}
	jobs, _ := fs.ListJobsForUsername(context.Background(), testTenantID, "natgeo")
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != models.JobStatusApifyFailed {
			t.Errorf("job %s status = %s, want apify_failed", job.ID, job.Status)
		}
		if job.ErrorMessage == nil {
			t.Errorf("job %s has no error message", job.ID)
		}
	}
}

func TestRequestAnalysis_ActiveJobReturnsAlreadyRunning(t *testing.T) {
	fs, _, _, co := newTestCoordinator()
	active := seedJob(fs, func(j *models.ScrapeJob) {
		j.Status = models.JobStatusProcessing
		j.ApifyRunID = strptr("run-1")
	})

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if resp.Outcome != ingest.OutcomeAlreadyRunning {
		t.Fatalf("outcome = %s, want already_running", resp.Outcome)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != active.ID {
		t.Error("response does not carry the active job")
	}
	if fs.jobCount() != 1 {
		t.Errorf("store has %d jobs, want 1 (no duplicates started)", fs.jobCount())
	}
}

func TestRequestAnalysis_CompletedWithProfileReturnsAlreadyAnalyzed(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	seedJob(fs, func(j *models.ScrapeJob) { j.Status = models.JobStatusCompleted })
	fs.profiles[uuid.New()] = &models.Profile{
		ID: uuid.New(), TenantID: testTenantID, Username: "natgeo",
	}

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if resp.Outcome != ingest.OutcomeAlreadyAnalyzed {
		t.Fatalf("outcome = %s, want already_analyzed", resp.Outcome)
	}
	if fs.jobCount() != 1 {
		t.Errorf("store has %d jobs, want 1", fs.jobCount())
	}
	if len(fp.runStates) != 0 || len(fp.fetchCalls) != 0 {
		t.Error("no remote calls should be made for an already analyzed account")
	}
}

func TestRequestAnalysis_CompletedJobBeatsNewerFailure(t *testing.T) {
	fs, _, _, co := newTestCoordinator()
	seedJob(fs, func(j *models.ScrapeJob) {
		j.Status = models.JobStatusCompleted
		j.CreatedAt = time.Now().UTC().Add(-time.Hour)
	})
	seedJob(fs, func(j *models.ScrapeJob) { j.Status = models.JobStatusApifyFailed })
	fs.profiles[uuid.New()] = &models.Profile{
		ID: uuid.New(), TenantID: testTenantID, Username: "natgeo",
	}

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if resp.Outcome != ingest.OutcomeAlreadyAnalyzed {
		t.Fatalf("outcome = %s, want already_analyzed (completed job wins over newer failure)", resp.Outcome)
	}
}

func TestRequestAnalysis_FailedJobStartsFresh(t *testing.T) {
	fs, _, _, co := newTestCoordinator()
	seedJob(fs, func(j *models.ScrapeJob) { j.Status = models.JobStatusApifyFailed })

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if resp.Outcome != ingest.OutcomeStarted {
		t.Fatalf("outcome = %s, want started", resp.Outcome)
	}
	if fs.jobCount() != 3 {
		t.Errorf("store has %d jobs, want 3 (old failure plus two fresh)", fs.jobCount())
	}
}

func TestRequestAnalysis_SucceededJobReconcilesInline(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	fp.datasets["ds-1"] = []map[string]any{profileItem("natgeo")}
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypeProfileDetails
		j.Status = models.JobStatusApifySucceeded
		j.ApifyDatasetID = strptr("ds-1")
	})

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if resp.Outcome != ingest.OutcomeReconciled {
		t.Fatalf("outcome = %s, want reconciled", resp.Outcome)
	}
	if got := fs.jobByID(job.ID).Status; got != models.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", got)
	}
	if fs.profileCount() != 1 {
		t.Errorf("store has %d profiles, want 1", fs.profileCount())
	}
}

func TestRequestAnalysis_ReopensCompletedJobMissingProfile(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	fp.datasets["ds-1"] = []map[string]any{profileItem("natgeo")}
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypeProfileDetails
		j.Status = models.JobStatusCompleted
		j.ApifyDatasetID = strptr("ds-1")
	})

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if resp.Outcome != ingest.OutcomeReconciled {
		t.Fatalf("outcome = %s, want reconciled", resp.Outcome)
	}
	if fs.profileCount() != 1 {
		t.Errorf("store has %d profiles, want 1 (rebuilt from the retained dataset)", fs.profileCount())
	}
	if got := fs.jobByID(job.ID).Status; got != models.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", got)
	}
	if fs.jobCount() != 1 {
		t.Errorf("store has %d jobs, want 1 (no fresh scrape)", fs.jobCount())
	}
}

func TestRequestAnalysis_CompletedWithoutDatasetStartsFresh(t *testing.T) {
	fs, _, _, co := newTestCoordinator()
	seedJob(fs, func(j *models.ScrapeJob) { j.Status = models.JobStatusCompleted })

	resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if resp.Outcome != ingest.OutcomeStarted {
		t.Fatalf("outcome = %s, want started (nothing left to reconcile from)", resp.Outcome)
	}
	if fs.jobCount() != 3 {
		t.Errorf("store has %d jobs, want 3", fs.jobCount())
	}
}

func TestRequestAnalysis_ConcurrentRequestsStartOnePair(t *testing.T) {
	fs, _, _, co := newTestCoordinator()

	var wg sync.WaitGroup
	outcomes := make([]ingest.Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := co.RequestAnalysis(context.Background(), testTenantID, "natgeo", ingest.AnalyzeParams{})
			if err != nil {
				t.Errorf("RequestAnalysis: %v", err)
				return
			}
			outcomes[i] = resp.Outcome
		}(i)
	}
	wg.Wait()

	var started int
	for _, o := range outcomes {
		if o == ingest.OutcomeStarted {
			started++
		}
	}
	if started != 1 {
		t.Errorf("%d requests started jobs, want exactly 1", started)
	}
	if fs.jobCount() != 2 {
		t.Errorf("store has %d jobs, want 2", fs.jobCount())
	}
}

// ─────────────────────────────────────────────────────────────────────────
// PollActiveJobs
// ─────────────────────────────────────────────────────────────────────────

func TestPollActiveJobs_FullLifecycle(t *testing.T) {
	fs, fp, fc, co := newTestCoordinator()
	ctx := context.Background()

	resp, err := co.RequestAnalysis(ctx, testTenantID, "alice", ingest.AnalyzeParams{ResultsLimit: 30})
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	profileJob, postsJob := resp.Jobs[0], resp.Jobs[1]

	// First cycle: both runs still in flight.
	remaining, err := co.PollActiveJobs(ctx)
	if err != nil {
		t.Fatalf("PollActiveJobs: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("remaining = %d, want 2", remaining)
	}

	fp.finishRun(*profileJob.ApifyRunID, "ds-profile", []map[string]any{profileItem("alice")})
	fp.finishRun(*postsJob.ApifyRunID, "ds-posts", []map[string]any{postItem("p1"), postItem("p2"), postItem("p3")})

	// Second cycle advances both to succeeded and reconciles them.
	remaining, err = co.PollActiveJobs(ctx)
	if err != nil {
		t.Fatalf("PollActiveJobs: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}

	if got := fs.jobByID(profileJob.ID).Status; got != models.JobStatusCompleted {
		t.Errorf("profile job status = %s, want completed", got)
	}
	if got := fs.jobByID(postsJob.ID).Status; got != models.JobStatusCompleted {
		t.Errorf("posts job status = %s, want completed", got)
	}
	if fs.profileCount() != 1 {
		t.Errorf("store has %d profiles, want 1", fs.profileCount())
	}
	if fs.postCount() != 3 {
		t.Errorf("store has %d posts, want 3", fs.postCount())
	}

	profile, err := fs.GetProfileByUsername(ctx, testTenantID, "alice")
	if err != nil {
		t.Fatalf("profile row missing: %v", err)
	}
	if profile.ExternalID != "787132" {
		t.Errorf("profile external id = %q, want 787132", profile.ExternalID)
	}
	if got := fs.jobByID(profileJob.ID).Details.ProfileID; got == nil || *got != profile.ID {
		t.Error("profile job details does not record the profile id")
	}
	if status, ok, _ := fc.GetJobStatus(ctx, profileJob.ID); !ok || status != models.JobStatusCompleted {
		t.Errorf("cached status = %q, want completed", status)
	}
}

func TestPollActiveJobs_RunFailureAndTimeout(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	ctx := context.Background()

	failedJob := seedJob(fs, func(j *models.ScrapeJob) {
		j.Status = models.JobStatusProcessing
		j.ApifyRunID = strptr("run-f")
	})
	timedOutJob := seedJob(fs, func(j *models.ScrapeJob) {
		j.Username = "other"
		j.Status = models.JobStatusProcessing
		j.ApifyRunID = strptr("run-t")
	})
	fp.failRun("run-f", apify.StatusFailed)
	fp.failRun("run-t", apify.StatusTimedOut)

	remaining, err := co.PollActiveJobs(ctx)
	if err != nil {
		t.Fatalf("PollActiveJobs: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if got := fs.jobByID(failedJob.ID).Status; got != models.JobStatusApifyFailed {
		t.Errorf("failed job status = %s, want apify_failed", got)
	}
	if got := fs.jobByID(timedOutJob.ID).Status; got != models.JobStatusApifyTimedOut {
		t.Errorf("timed out job status = %s, want apify_timed_out", got)
	}
}

func TestPollActiveJobs_UnknownRunIDIsPermanent(t *testing.T) {
	fs, _, _, co := newTestCoordinator()
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.Status = models.JobStatusProcessing
		j.ApifyRunID = strptr("run-gone")
	})

	if _, err := co.PollActiveJobs(context.Background()); err != nil {
		t.Fatalf("PollActiveJobs: %v", err)
	}
	got := fs.jobByID(job.ID)
	if got.Status != models.JobStatusApifyFailed {
		t.Errorf("job status = %s, want apify_failed", got.Status)
	}
	if got.ErrorMessage == nil {
		t.Error("job has no error message")
	}
}

func TestPollActiveJobs_TransientErrorLeavesJobProcessing(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.Status = models.JobStatusProcessing
		j.ApifyRunID = strptr("run-1")
	})
	fp.pollErr = apify.ErrProviderUnreachable

	remaining, err := co.PollActiveJobs(context.Background())
	if err != nil {
		t.Fatalf("PollActiveJobs: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
	if got := fs.jobByID(job.ID).Status; got != models.JobStatusProcessing {
		t.Errorf("job status = %s, want processing_apify (retry next cycle)", got)
	}
}

func TestPollActiveJobs_MissingRunIDFailsJob(t *testing.T) {
	fs, _, _, co := newTestCoordinator()
	job := seedJob(fs, func(j *models.ScrapeJob) { j.Status = models.JobStatusProcessing })

	if _, err := co.PollActiveJobs(context.Background()); err != nil {
		t.Fatalf("PollActiveJobs: %v", err)
	}
	if got := fs.jobByID(job.ID).Status; got != models.JobStatusApifyFailed {
		t.Errorf("job status = %s, want apify_failed", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────
// Reconcile
// ─────────────────────────────────────────────────────────────────────────

func TestReconcile_ConcurrentCallsProcessOnce(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	fp.datasets["ds-1"] = []map[string]any{profileItem("natgeo")}
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypeProfileDetails
		j.Status = models.JobStatusApifySucceeded
		j.ApifyDatasetID = strptr("ds-1")
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot := *job
			if err := co.Reconcile(context.Background(), &snapshot, "apify-token"); err != nil {
				t.Errorf("Reconcile: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := fp.fetchCalls["ds-1"]; got != 1 {
		t.Errorf("dataset fetched %d times, want exactly 1", got)
	}
	if fs.profileCount() != 1 {
		t.Errorf("store has %d profiles, want 1", fs.profileCount())
	}
	if got := fs.jobByID(job.ID).Status; got != models.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", got)
	}
}

func TestReconcile_TerminalJobIsNoOp(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypeProfileDetails
		j.Status = models.JobStatusCompleted
		j.ApifyDatasetID = strptr("ds-1")
	})

	if err := co.Reconcile(context.Background(), fs.jobByID(job.ID), "apify-token"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(fp.fetchCalls) != 0 {
		t.Error("terminal job should not touch the provider")
	}
}

func TestReconcile_MissingDatasetFailsProcessing(t *testing.T) {
	fs, _, _, co := newTestCoordinator()
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypeProfileDetails
		j.Status = models.JobStatusApifySucceeded
	})

	if err := co.Reconcile(context.Background(), fs.jobByID(job.ID), "apify-token"); err == nil {
		t.Fatal("expected error for missing dataset id")
	}
	if got := fs.jobByID(job.ID).Status; got != models.JobStatusFailedProcessing {
		t.Errorf("job status = %s, want failed_processing", got)
	}
}

func TestReconcile_PostsJobWithoutProfileFailsProcessing(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	fp.datasets["ds-posts"] = []map[string]any{postItem("p1")}
	parent := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypeProfileDetails
		j.Status = models.JobStatusApifyFailed
	})
	postsJob := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypePosts
		j.Status = models.JobStatusApifySucceeded
		j.ApifyDatasetID = strptr("ds-posts")
		j.ParentJobID = &parent.ID
	})

	err := co.Reconcile(context.Background(), fs.jobByID(postsJob.ID), "apify-token")
	if !errors.Is(err, ingest.ErrProfileResolution) {
		t.Fatalf("error = %v, want ErrProfileResolution", err)
	}
	if got := fs.jobByID(postsJob.ID).Status; got != models.JobStatusFailedProcessing {
		t.Errorf("job status = %s, want failed_processing", got)
	}
	if fs.profileCount() != 0 {
		t.Error("posts job must never create a profile")
	}
	if fs.postCount() != 0 {
		t.Error("no posts should be saved without a profile")
	}
}

func TestReconcile_PostsJobUsesParentProfileID(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	fp.datasets["ds-posts"] = []map[string]any{postItem("p1"), postItem("p2")}

	// The provider returned a different handle, so a username lookup would
	// miss; the recorded profile id must be what attaches the posts.
	profile := &models.Profile{ID: uuid.New(), TenantID: testTenantID, Username: "natgeo.official", ExternalID: "787132"}
	fs.profiles[profile.ID] = profile

	parent := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypeProfileDetails
		j.Status = models.JobStatusCompleted
		j.Details = models.JobDetails{ProfileID: &profile.ID}
	})
	postsJob := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypePosts
		j.Status = models.JobStatusApifySucceeded
		j.ApifyDatasetID = strptr("ds-posts")
		j.ParentJobID = &parent.ID
	})

	if err := co.Reconcile(context.Background(), fs.jobByID(postsJob.ID), "apify-token"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	posts, _ := fs.ListPostsForProfile(context.Background(), profile.ID)
	if len(posts) != 2 {
		t.Errorf("profile has %d posts, want 2", len(posts))
	}
}

func TestReconcile_JobKindRecoveredFromDetails(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	fp.datasets["ds-posts"] = []map[string]any{postItem("p1")}
	profile := &models.Profile{ID: uuid.New(), TenantID: testTenantID, Username: "natgeo"}
	fs.profiles[profile.ID] = profile

	// Legacy row: no job_type, but the details bag names its run as the
	// posts run of the pair.
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.Status = models.JobStatusApifySucceeded
		j.ApifyRunID = strptr("run-posts-x")
		j.ApifyDatasetID = strptr("ds-posts")
		j.Details = models.JobDetails{ProfileRunID: "run-profile-x", PostsRunID: "run-posts-x"}
	})

	if err := co.Reconcile(context.Background(), fs.jobByID(job.ID), "apify-token"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if fs.postCount() != 1 {
		t.Errorf("store has %d posts, want 1 (dataset treated as posts, not combined)", fs.postCount())
	}
	if fs.profileCount() != 1 {
		t.Errorf("store has %d profiles, want 1 (no second profile written)", fs.profileCount())
	}
}

func TestReconcile_LegacyCombinedDataset(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	combined := []map[string]any{
		{
			"ownerId":        "787132",
			"ownerUsername":  "natgeo",
			"ownerFullName":  "National Geographic",
			"followersCount": float64(500),
		},
		postItem("p1"),
		postItem("p2"),
	}
	fp.datasets["ds-combined"] = combined
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.Status = models.JobStatusApifySucceeded
		j.ApifyRunID = strptr("run-legacy")
		j.ApifyDatasetID = strptr("ds-combined")
	})

	if err := co.Reconcile(context.Background(), fs.jobByID(job.ID), "apify-token"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	profile, err := fs.GetProfileByUsername(context.Background(), testTenantID, "natgeo")
	if err != nil {
		t.Fatalf("profile row missing: %v", err)
	}
	if profile.ExternalID != "787132" {
		t.Errorf("profile external id = %q, want 787132", profile.ExternalID)
	}
	if fs.postCount() != 2 {
		t.Errorf("store has %d posts, want 2", fs.postCount())
	}
	if got := fs.jobByID(job.ID).Status; got != models.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", got)
	}
}

func TestReconcile_EmptyProfileDatasetFailsProcessing(t *testing.T) {
	fs, fp, _, co := newTestCoordinator()
	fp.datasets["ds-empty"] = nil
	job := seedJob(fs, func(j *models.ScrapeJob) {
		j.JobType = models.JobTypeProfileDetails
		j.Status = models.JobStatusApifySucceeded
		j.ApifyDatasetID = strptr("ds-empty")
	})

	if err := co.Reconcile(context.Background(), fs.jobByID(job.ID), "apify-token"); err == nil {
		t.Fatal("expected error for empty dataset")
	}
	if got := fs.jobByID(job.ID).Status; got != models.JobStatusFailedProcessing {
		t.Errorf("job status = %s, want failed_processing", got)
	}
}
