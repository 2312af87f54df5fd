package causelist

import (
	"context"
	"io"
	"time"
)

// Fetcher performs one request against the source site. Transport errors are
// returned as errors; HTTP error statuses are returned in the response.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Notifier receives the outcome of processed dates and exhausted jobs.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
	NotifyFailure(ctx context.Context, failure FailureReport) error
}

// Publisher pushes payloads to a topic (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ExclusiveLock reports whether an unrelated exclusive operation is running.
type ExclusiveLock interface {
	Held(ctx context.Context) (bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
