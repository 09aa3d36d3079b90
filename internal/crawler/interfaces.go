package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobQueue is the counting FIFO shared by the orchestrator and every worker.
// Enqueue never blocks and never drops. Dequeue blocks until a job is
// available. Join blocks until every job ever enqueued has been marked done,
// including jobs enqueued by jobs still in flight.
type JobQueue interface {
	Enqueue(job Job)
	Dequeue() Job
	MarkDone()
	Join()
}

// Gateway fetches a URL with a rotated identity and a bounded timeout.
// Failures before any request was attempted wrap ErrNotAttempted so callers
// can skip the post-job politeness delay.
type Gateway interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// ItemStore is the dedup-and-upsert gate against the persistent catalog.
type ItemStore interface {
	// Exists reports whether the canonical URL is already cataloged.
	// Storage errors are treated as "not present": the insert's unique
	// constraint is the final race guard.
	Exists(ctx context.Context, url string) bool
	// Insert writes the food row and its diet tags in one transaction.
	// A concurrent insert of the same URL surfaces as ErrDuplicateItem.
	Insert(ctx context.Context, food Food, diets []string) error
}

// RunStore persists crawl run records for the pre-seeding gate.
type RunStore interface {
	LastTotal(ctx context.Context) (int, error)
	StartRun(ctx context.Context, run CrawlRun) error
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status string) error
}

// SeenCache is an optional fast-path dedup check in front of ItemStore.Exists.
type SeenCache interface {
	// Seen marks the URL and reports whether it was already marked.
	Seen(ctx context.Context, url string) (bool, error)
	// Forget clears the mark so a failed item can be retried later.
	Forget(ctx context.Context, url string) error
}

// Publisher pushes stored-item events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ListingParser extracts detail links and result totals from a listing page.
type ListingParser interface {
	ProductLinks(body []byte) ([]string, error)
	// ResultTotals returns the page size and total result count parsed from
	// the listing page's result-count line.
	ResultTotals(body []byte) (pageSize int, total int, err error)
}

// DetailParser extracts a food record and its diet tags from a detail page.
type DetailParser interface {
	Detail(body []byte, pageURL string) (Food, []string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
