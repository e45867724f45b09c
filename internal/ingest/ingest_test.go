package ingest_test

// Shared in-memory fakes for the ingest package tests. The fake store
// mirrors the Postgres store's observable behavior: newest-first job
// listings, atomic claims, duplicate key errors on post inserts.

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kavyanair/gramscope/internal/apify"
	"github.com/kavyanair/gramscope/internal/store"
	"github.com/kavyanair/gramscope/pkg/models"
)

var testTenantID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")

// --- fake store ---

type fakeStore struct {
	mu       sync.Mutex
	creds    map[string]*models.ProviderCredential
	jobs     map[uuid.UUID]*models.ScrapeJob
	profiles map[uuid.UUID]*models.Profile
	posts    map[string]*models.Post

	insertPostCount int
	updatePostCount int
}

func newFakeStore() *fakeStore {
	fs := &fakeStore{
		creds:    make(map[string]*models.ProviderCredential),
		jobs:     make(map[uuid.UUID]*models.ScrapeJob),
		profiles: make(map[uuid.UUID]*models.Profile),
		posts:    make(map[string]*models.Post),
	}
	fs.creds[testTenantID.String()+"/apify"] = &models.ProviderCredential{
		ID: uuid.New(), TenantID: testTenantID,
		Service: models.CredentialServiceApify, Token: "apify-token",
	}
	return fs
}

func (s *fakeStore) Ping(_ context.Context) error { return nil }

func (s *fakeStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	return &models.Tenant{ID: testTenantID, Name: "default"}, nil
}

func (s *fakeStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *fakeStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *fakeStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error { return nil }
func (s *fakeStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *fakeStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }

func (s *fakeStore) UpsertCredential(_ context.Context, cred *models.ProviderCredential) (*models.ProviderCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.TenantID.String()+"/"+cred.Service] = cred
	return cred, nil
}

func (s *fakeStore) GetCredential(_ context.Context, tenantID uuid.UUID, service string) (*models.ProviderCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[tenantID.String()+"/"+service]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cred, nil
}

func (s *fakeStore) ListCredentials(_ context.Context, _ uuid.UUID) ([]*models.ProviderCredential, error) {
	return nil, nil
}
func (s *fakeStore) DeleteCredential(_ context.Context, _ uuid.UUID, _ string) error { return nil }

func (s *fakeStore) CreateJob(_ context.Context, job *models.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) UpdateJob(_ context.Context, id uuid.UUID, opts ...store.JobUpdateOption) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	store.ApplyJobUpdates(job, opts...)
	copied := *job
	return &copied, nil
}

func (s *fakeStore) ClaimJob(_ context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if job.Status == status {
			job.Status = to
			job.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) listJobs(filter func(*models.ScrapeJob) bool) []*models.ScrapeJob {
	var out []*models.ScrapeJob
	for _, j := range s.jobs {
		if filter(j) {
			copied := *j
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return out
}

func (s *fakeStore) ListJobsForTenant(_ context.Context, tenantID uuid.UUID) ([]*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listJobs(func(j *models.ScrapeJob) bool { return j.TenantID == tenantID }), nil
}

func (s *fakeStore) ListJobsForUsername(_ context.Context, tenantID uuid.UUID, username string) ([]*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listJobs(func(j *models.ScrapeJob) bool {
		return j.TenantID == tenantID && j.Username == username
	}), nil
}

func (s *fakeStore) ListJobsByStatus(_ context.Context, statuses ...string) ([]*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listJobs(func(j *models.ScrapeJob) bool {
		for _, status := range statuses {
			if j.Status == status {
				return true
			}
		}
		return false
	}), nil
}

func (s *fakeStore) UpsertProfile(_ context.Context, profile *models.Profile) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.profiles {
		if existing.TenantID == profile.TenantID && existing.Username == profile.Username {
			profile.ID = existing.ID
			copied := *profile
			s.profiles[existing.ID] = &copied
			return profile, nil
		}
	}
	copied := *profile
	s.profiles[profile.ID] = &copied
	return profile, nil
}

func (s *fakeStore) GetProfileByUsername(_ context.Context, tenantID uuid.UUID, username string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.TenantID == tenantID && p.Username == username {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetProfileByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *fakeStore) DeleteProfile(_ context.Context, tenantID uuid.UUID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.profiles {
		if p.TenantID == tenantID && p.Username == username {
			delete(s.profiles, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) GetPostByExternalID(_ context.Context, profileID uuid.UUID, externalID string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[profileID.String()+"/"+externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *post
	return &copied, nil
}

func (s *fakeStore) InsertPost(_ context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := post.ProfileID.String() + "/" + post.ExternalID
	if _, ok := s.posts[key]; ok {
		return store.ErrDuplicateKey
	}
	s.insertPostCount++
	copied := *post
	s.posts[key] = &copied
	return nil
}

func (s *fakeStore) UpdatePost(_ context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatePostCount++
	copied := *post
	s.posts[post.ProfileID.String()+"/"+post.ExternalID] = &copied
	return nil
}

func (s *fakeStore) ListPostsForProfile(_ context.Context, profileID uuid.UUID) ([]*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Post
	for _, p := range s.posts {
		if p.ProfileID == profileID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

var _ store.Store = (*fakeStore)(nil)

// jobByID reads a job directly for assertions.
func (s *fakeStore) jobByID(id uuid.UUID) *models.ScrapeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job == nil {
		return nil
	}
	copied := *job
	return &copied
}

func (s *fakeStore) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *fakeStore) profileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

func (s *fakeStore) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// --- fake provider ---

type fakeProvider struct {
	mu sync.Mutex

	startProfileErr error
	startPostsErr   error
	pollErr         error
	fetchErr        error

	runStates  map[string]apify.RunState
	datasets   map[string][]map[string]any
	fetchCalls map[string]int
	postsRuns  []apify.RunParams
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		runStates:  make(map[string]apify.RunState),
		datasets:   make(map[string][]map[string]any),
		fetchCalls: make(map[string]int),
	}
}

func (p *fakeProvider) StartProfileRun(_ context.Context, _ string, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startProfileErr != nil {
		return "", p.startProfileErr
	}
	runID := "run-profile-" + uuid.NewString()[:8]
	p.runStates[runID] = apify.RunState{Status: apify.StatusRunning}
	return runID, nil
}

func (p *fakeProvider) StartPostsRun(_ context.Context, _ string, _ string, params apify.RunParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startPostsErr != nil {
		return "", p.startPostsErr
	}
	p.postsRuns = append(p.postsRuns, params)
	runID := "run-posts-" + uuid.NewString()[:8]
	p.runStates[runID] = apify.RunState{Status: apify.StatusRunning}
	return runID, nil
}

func (p *fakeProvider) PollRunStatus(_ context.Context, _ string, runID string) (apify.RunState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pollErr != nil {
		return apify.RunState{}, p.pollErr
	}
	state, ok := p.runStates[runID]
	if !ok {
		return apify.RunState{}, apify.ErrRunNotFound
	}
	return state, nil
}

func (p *fakeProvider) FetchDatasetItems(_ context.Context, _ string, datasetID string) ([]map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	p.fetchCalls[datasetID]++
	return p.datasets[datasetID], nil
}

// finishRun marks a run succeeded with a dataset holding items.
func (p *fakeProvider) finishRun(runID, datasetID string, items []map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runStates[runID] = apify.RunState{Status: apify.StatusSucceeded, DatasetID: datasetID}
	p.datasets[datasetID] = items
}

func (p *fakeProvider) failRun(runID string, status apify.RunStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runStates[runID] = apify.RunState{Status: status}
}

var _ apify.Client = (*fakeProvider)(nil)

// --- fake cache ---

type fakeCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{statuses: make(map[uuid.UUID]string)}
}

func (c *fakeCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }

func (c *fakeCache) Get(_ context.Context, _ string) ([]byte, bool, error) { return nil, false, nil }

func (c *fakeCache) Delete(_ context.Context, _ string) error { return nil }

func (c *fakeCache) Ping(_ context.Context) error { return nil }

func (c *fakeCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}
func (c *fakeCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok, nil
}
func (c *fakeCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- item fixtures ---

func profileItem(username string) map[string]any {
	return map[string]any{
		"id":             "787132",
		"username":       username,
		"fullName":       "Test Account",
		"biography":      "bio",
		"followersCount": float64(1000),
		"followsCount":   float64(50),
		"postsCount":     float64(3),
		"profilePicUrl":  "https://scontent.cdninstagram.com/avatar.jpg",
	}
}

func postItem(id string) map[string]any {
	return map[string]any{
		"id":            id,
		"shortCode":     "SC" + id,
		"type":          "Image",
		"url":           "https://www.instagram.com/p/SC" + id + "/",
		"caption":       "caption " + id,
		"likesCount":    float64(10),
		"commentsCount": float64(2),
		"displayUrl":    "https://scontent.cdninstagram.com/" + id + ".jpg",
		"timestamp":     "2025-06-01T12:00:00Z",
	}
}
