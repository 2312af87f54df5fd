package causelist

import "errors"

var (
	// ErrUpstreamUnavailable means the source site could not be reached or kept
	// failing after transport retries were exhausted.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound marks a legitimate absence (case, judge, anchor, matching rows).
	ErrNotFound = errors.New("not found")
	// ErrMalformedPage means the page did not have the expected structure.
	ErrMalformedPage = errors.New("malformed page")
	// ErrJobFailed wraps the final error of a job that exhausted its attempts.
	ErrJobFailed = errors.New("job failed")
)
