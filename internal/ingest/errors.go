package ingest

import "errors"

var (
	// ErrNoCredential means the tenant has not registered an apify token, so
	// no remote run can be started on their behalf.
	ErrNoCredential = errors.New("no apify credential registered for tenant")

	// ErrProfileResolution means a posts job could not locate the profile its
	// content belongs to. A posts job never creates a profile itself.
	ErrProfileResolution = errors.New("cannot resolve profile for posts job")

	// ErrAllPostsFailed means every item in a dataset failed to persist.
	ErrAllPostsFailed = errors.New("all posts failed to save")
)
