package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kavyanair/gramscope/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Provider Credentials ---

func (s *PostgresStore) UpsertCredential(ctx context.Context, cred *models.ProviderCredential) (*models.ProviderCredential, error) {
	var result models.ProviderCredential
	err := s.pool.QueryRow(ctx,
		`INSERT INTO provider_credentials (id, tenant_id, service, token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, service) DO UPDATE SET
		   token = EXCLUDED.token,
		   updated_at = NOW()
		 RETURNING id, tenant_id, service, token, created_at, updated_at`,
		cred.ID, cred.TenantID, cred.Service, cred.Token, cred.CreatedAt, cred.UpdatedAt,
	).Scan(&result.ID, &result.TenantID, &result.Service, &result.Token,
		&result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert credential: %w", err)
	}
	return &result, nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, tenantID uuid.UUID, service string) (*models.ProviderCredential, error) {
	var c models.ProviderCredential
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, service, token, created_at, updated_at
		 FROM provider_credentials WHERE tenant_id = $1 AND service = $2`, tenantID, service,
	).Scan(&c.ID, &c.TenantID, &c.Service, &c.Token, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context, tenantID uuid.UUID) ([]*models.ProviderCredential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, service, token, created_at, updated_at
		 FROM provider_credentials WHERE tenant_id = $1 ORDER BY service`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.ProviderCredential
	for rows.Next() {
		var c models.ProviderCredential
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Service, &c.Token, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, tenantID uuid.UUID, service string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM provider_credentials WHERE tenant_id = $1 AND service = $2`, tenantID, service)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Scrape Jobs ---

const jobColumns = `id, tenant_id, username, job_type, status, apify_run_id, apify_dataset_id,
	 parent_job_id, error_message, details, created_at, updated_at`

func scanJob(row pgx.Row) (*models.ScrapeJob, error) {
	var j models.ScrapeJob
	err := row.Scan(&j.ID, &j.TenantID, &j.Username, &j.JobType, &j.Status,
		&j.ApifyRunID, &j.ApifyDatasetID, &j.ParentJobID, &j.ErrorMessage,
		&j.Details, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.ScrapeJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_jobs (id, tenant_id, username, job_type, status, apify_run_id,
		   apify_dataset_id, parent_job_id, error_message, details, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.TenantID, job.Username, job.JobType, job.Status, job.ApifyRunID,
		job.ApifyDatasetID, job.ParentJobID, job.ErrorMessage, job.Details,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.ScrapeJob, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	sets := []string{"updated_at = $2"}
	args := []any{id, time.Now().UTC()}
	argIdx := 3

	if params.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.RunID != nil {
		sets = append(sets, fmt.Sprintf("apify_run_id = $%d", argIdx))
		args = append(args, *params.RunID)
		argIdx++
	}
	if params.DatasetID != nil {
		sets = append(sets, fmt.Sprintf("apify_dataset_id = $%d", argIdx))
		args = append(args, *params.DatasetID)
		argIdx++
	}
	if params.ClearError {
		sets = append(sets, "error_message = NULL")
	} else if params.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", argIdx))
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Details != nil {
		sets = append(sets, fmt.Sprintf("details = $%d", argIdx))
		args = append(args, *params.Details)
		argIdx++
	}

	query := fmt.Sprintf(`UPDATE scrape_jobs SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(sets, ", "), jobColumns)

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($2)`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListJobsForTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.ScrapeJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for tenant: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ListJobsForUsername(ctx context.Context, tenantID uuid.UUID, username string) ([]*models.ScrapeJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs
		 WHERE tenant_id = $1 AND username = $2 ORDER BY created_at DESC`, tenantID, username)
	if err != nil {
		return nil, fmt.Errorf("list jobs for username: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, statuses ...string) ([]*models.ScrapeJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE status = ANY($1) ORDER BY created_at`, statuses)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*models.ScrapeJob, error) {
	defer rows.Close()

	var jobs []*models.ScrapeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Profiles ---

const profileColumns = `id, tenant_id, username, full_name, biography, followers_count,
	 following_count, posts_count, profile_pic_url, is_business, category, external_id,
	 created_at, updated_at`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.TenantID, &p.Username, &p.FullName, &p.Biography,
		&p.FollowersCount, &p.FollowingCount, &p.PostsCount, &p.ProfilePicURL,
		&p.IsBusiness, &p.Category, &p.ExternalID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`INSERT INTO instagram_profiles (id, tenant_id, username, full_name, biography,
		   followers_count, following_count, posts_count, profile_pic_url, is_business,
		   category, external_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (tenant_id, username) DO UPDATE SET
		   full_name = EXCLUDED.full_name,
		   biography = EXCLUDED.biography,
		   followers_count = EXCLUDED.followers_count,
		   following_count = EXCLUDED.following_count,
		   posts_count = EXCLUDED.posts_count,
		   profile_pic_url = EXCLUDED.profile_pic_url,
		   is_business = EXCLUDED.is_business,
		   category = EXCLUDED.category,
		   external_id = EXCLUDED.external_id,
		   updated_at = NOW()
		 RETURNING `+profileColumns,
		profile.ID, profile.TenantID, profile.Username, profile.FullName, profile.Biography,
		profile.FollowersCount, profile.FollowingCount, profile.PostsCount, profile.ProfilePicURL,
		profile.IsBusiness, profile.Category, profile.ExternalID, profile.CreatedAt, profile.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetProfileByUsername(ctx context.Context, tenantID uuid.UUID, username string) (*models.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM instagram_profiles
		 WHERE tenant_id = $1 AND username = $2`, tenantID, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile by username: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM instagram_profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile by id: %w", err)
	}
	return p, nil
}

// DeleteProfile removes a profile row; posts go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteProfile(ctx context.Context, tenantID uuid.UUID, username string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM instagram_profiles WHERE tenant_id = $1 AND username = $2`, tenantID, username)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Posts ---

const postColumns = `id, profile_id, external_id, shortcode, content_type, url, caption,
	 posted_at, likes_count, comments_count, views_count, display_url, is_video,
	 hashtags, mentions, product_type, comments_disabled, created_at, updated_at`

func scanPost(row pgx.Row) (*models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.ProfileID, &p.ExternalID, &p.Shortcode, &p.ContentType,
		&p.URL, &p.Caption, &p.PostedAt, &p.LikesCount, &p.CommentsCount, &p.ViewsCount,
		&p.DisplayURL, &p.IsVideo, &p.Hashtags, &p.Mentions, &p.ProductType,
		&p.CommentsDisabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPostByExternalID(ctx context.Context, profileID uuid.UUID, externalID string) (*models.Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx,
		`SELECT `+postColumns+` FROM instagram_posts
		 WHERE profile_id = $1 AND external_id = $2`, profileID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post by external id: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, post *models.Post) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instagram_posts (id, profile_id, external_id, shortcode, content_type,
		   url, caption, posted_at, likes_count, comments_count, views_count, display_url,
		   is_video, hashtags, mentions, product_type, comments_disabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		post.ID, post.ProfileID, post.ExternalID, post.Shortcode, post.ContentType,
		post.URL, post.Caption, post.PostedAt, post.LikesCount, post.CommentsCount,
		post.ViewsCount, post.DisplayURL, post.IsVideo, post.Hashtags, post.Mentions,
		post.ProductType, post.CommentsDisabled, post.CreatedAt, post.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, post *models.Post) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE instagram_posts SET shortcode = $3, content_type = $4, url = $5, caption = $6,
		   posted_at = $7, likes_count = $8, comments_count = $9, views_count = $10,
		   display_url = $11, is_video = $12, hashtags = $13, mentions = $14,
		   product_type = $15, comments_disabled = $16, updated_at = NOW()
		 WHERE profile_id = $1 AND external_id = $2`,
		post.ProfileID, post.ExternalID, post.Shortcode, post.ContentType, post.URL,
		post.Caption, post.PostedAt, post.LikesCount, post.CommentsCount, post.ViewsCount,
		post.DisplayURL, post.IsVideo, post.Hashtags, post.Mentions, post.ProductType,
		post.CommentsDisabled)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPostsForProfile(ctx context.Context, profileID uuid.UUID) ([]*models.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM instagram_posts
		 WHERE profile_id = $1 ORDER BY posted_at DESC NULLS LAST`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list posts for profile: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
