// Package apify is a thin client for the remote scrape provider's HTTP API.
// It starts actor runs, polls their status, and fetches finished datasets;
// it owns no local state.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for provider failures. ErrRunNotFound is permanent: the
// coordinator maps it straight to a failed job instead of retrying.
var (
	ErrRunNotFound         = errors.New("apify run not found")
	ErrProviderRejected    = errors.New("apify rejected request")
	ErrProviderUnreachable = errors.New("apify unreachable")
	ErrProviderTimeout     = errors.New("apify request timeout")
)

// RunStatus is the normalized status vocabulary for a remote run.
type RunStatus string

const (
	StatusRunning   RunStatus = "RUNNING"
	StatusSucceeded RunStatus = "SUCCEEDED"
	StatusFailed    RunStatus = "FAILED"
	StatusTimedOut  RunStatus = "TIMED_OUT"
	StatusAborted   RunStatus = "ABORTED"
)

// RunState is a poll result. DatasetID is populated once the run finished.
type RunState struct {
	Status    RunStatus
	DatasetID string
}

// RunParams are caller-supplied scrape parameters. Zero values fall back to
// the provider defaults (10 items, 365 days).
type RunParams struct {
	ResultsLimit       int
	OnlyPostsNewerThan string
}

const (
	defaultResultsLimit = 10
	defaultNewerThan    = "365 days"
	resultsTypeDetails  = "details"
	resultsTypePosts    = "posts"
	detailsResultsLimit = 1
)

// Client is the interface for the remote scrape provider. The bearer token
// is passed per call because it belongs to the requesting tenant, not to the
// process.
type Client interface {
	StartProfileRun(ctx context.Context, token, username string) (string, error)
	StartPostsRun(ctx context.Context, token, username string, params RunParams) (string, error)
	PollRunStatus(ctx context.Context, token, runID string) (RunState, error)
	FetchDatasetItems(ctx context.Context, token, datasetID string) ([]map[string]any, error)
}

// HTTPClient implements Client against the provider's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new provider client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// StartProfileRun starts a run that scrapes exactly one item of rich profile
// metadata for the username.
func (c *HTTPClient) StartProfileRun(ctx context.Context, token, username string) (string, error) {
	return c.startRun(ctx, token, startRunRequest{
		DirectURLs:   []string{profileURL(username)},
		ResultsType:  resultsTypeDetails,
		ResultsLimit: detailsResultsLimit,
	})
}

// StartPostsRun starts a run that scrapes up to params.ResultsLimit recent
// posts for the username.
func (c *HTTPClient) StartPostsRun(ctx context.Context, token, username string, params RunParams) (string, error) {
	limit := params.ResultsLimit
	if limit <= 0 {
		limit = defaultResultsLimit
	}
	newerThan := params.OnlyPostsNewerThan
	if newerThan == "" {
		newerThan = defaultNewerThan
	}
	return c.startRun(ctx, token, startRunRequest{
		DirectURLs:         []string{profileURL(username)},
		ResultsType:        resultsTypePosts,
		ResultsLimit:       limit,
		OnlyPostsNewerThan: newerThan,
	})
}

func (c *HTTPClient) startRun(ctx context.Context, token string, body startRunRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding run request: %w", err)
	}

	u := fmt.Sprintf("%s/runs", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	}

	var runResp runResponse
	if err := json.NewDecoder(resp.Body).Decode(&runResp); err != nil {
		return "", fmt.Errorf("%w: decoding run response: %v", ErrProviderRejected, err)
	}
	if runResp.Data.ID == "" {
		return "", fmt.Errorf("%w: run response missing run id", ErrProviderRejected)
	}
	return runResp.Data.ID, nil
}

// PollRunStatus returns the run's normalized status. A 404 from the provider
// means the run id is unknown and maps to ErrRunNotFound.
func (c *HTTPClient) PollRunStatus(ctx context.Context, token, runID string) (RunState, error) {
	u := fmt.Sprintf("%s/actor-runs/%s", c.baseURL, url.PathEscape(runID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return RunState{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return RunState{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return RunState{}, fmt.Errorf("%w: run %s", ErrRunNotFound, runID)
	}
	if resp.StatusCode != http.StatusOK {
		return RunState{}, fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	}

	var runResp runResponse
	if err := json.NewDecoder(resp.Body).Decode(&runResp); err != nil {
		return RunState{}, fmt.Errorf("%w: decoding run response: %v", ErrProviderRejected, err)
	}

	return RunState{
		Status:    mapRunStatus(runResp.Data.Status),
		DatasetID: runResp.Data.DefaultDatasetID,
	}, nil
}

// FetchDatasetItems returns the raw item list for a finished run. An empty
// list is a valid result, not an error.
func (c *HTTPClient) FetchDatasetItems(ctx context.Context, token, datasetID string) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/datasets/%s/items?clean=true&format=json", c.baseURL, url.PathEscape(datasetID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decoding dataset items: %v", ErrProviderRejected, err)
	}
	if items == nil {
		items = []map[string]any{}
	}
	return items, nil
}

// mapRunStatus maps the provider's status vocabulary onto ours. Anything not
// explicitly terminal counts as still running (READY, ABORTING, TIMING-OUT).
func mapRunStatus(s string) RunStatus {
	switch s {
	case "SUCCEEDED":
		return StatusSucceeded
	case "FAILED":
		return StatusFailed
	case "TIMED-OUT", "TIMED_OUT":
		return StatusTimedOut
	case "ABORTED":
		return StatusAborted
	default:
		return StatusRunning
	}
}

func profileURL(username string) string {
	return fmt.Sprintf("https://www.instagram.com/%s/", username)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
}

// --- wire types ---

type startRunRequest struct {
	DirectURLs         []string `json:"directUrls"`
	ResultsType        string   `json:"resultsType"`
	ResultsLimit       int      `json:"resultsLimit"`
	OnlyPostsNewerThan string   `json:"onlyPostsNewerThan,omitempty"`
}

type runResponse struct {
	Data runData `json:"data"`
}

type runData struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
