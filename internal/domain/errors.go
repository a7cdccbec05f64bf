package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist. Structural: never retried.
	ErrNotFound = errors.New("artwork not found")

	// ErrDuplicateSkip marks a payload whose source identity was already archived.
	ErrDuplicateSkip = errors.New("already archived")

	// ErrUpstreamFetch wraps failures downloading a payload from its source.
	ErrUpstreamFetch = errors.New("upstream fetch failed")

	// ErrInferenceFailure wraps embedding failures, including unreadable blobs.
	ErrInferenceFailure = errors.New("inference failed")

	// ErrIndexInconsistency marks drift between the content store and the vector index.
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrValidation is returned for malformed submissions. Never enqueued, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrPageOutOfRange is returned by strict tag-search paging.
	ErrPageOutOfRange = errors.New("page out of range")
)
