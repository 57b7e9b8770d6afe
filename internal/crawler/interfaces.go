package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrQueueClosed is returned by Dequeue once a closed queue has been drained.
var ErrQueueClosed = errors.New("queue closed")

// Fetcher retrieves the body of a URL. A zero timeout selects the
// implementation's default.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// RetryPolicy decides whether a failed fetch attempt is repeated.
type RetryPolicy interface {
	MaxAttempts() int
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// SessionRecorder persists the outcome of one domain crawl.
type SessionRecorder interface {
	SaveSession(ctx context.Context, session Session) (string, error)
}

// SessionStore persists crawl sessions and answers history queries.
type SessionStore interface {
	SessionRecorder
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, filter HistoryFilter) (HistoryPage, error)
	Statistics(ctx context.Context, since time.Time) (Statistics, error)
	RecentByDomain(ctx context.Context, domain string, limit int) ([]Session, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used to address archived blobs.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Queue provides enqueue/dequeue semantics for fan-out batches.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
