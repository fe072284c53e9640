package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Implementations
// own transport-level retries; a returned error means the page is lost.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Sink persists validated listing records.
type Sink interface {
	Store(ctx context.Context, record ListingRecord) (string, error)
	Close(ctx context.Context) error
}

// PageArchive keeps a raw copy of each fetched listing page and returns its URI.
type PageArchive interface {
	Archive(ctx context.Context, snapshot PageSnapshot) (string, error)
}

// Throttle caps the request rate on top of the session's random delay.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// penalizer is implemented by throttles that slow a host after it blocks us.
type penalizer interface {
	Penalize(url string)
}

// RetryPolicy decides whether a failed fetch should be attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// RandSource is the subset of *math/rand/v2.Rand used by the session policy.
type RandSource interface {
	Float64() float64
	IntN(n int) int
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
