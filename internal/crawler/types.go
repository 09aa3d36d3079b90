// Package crawler defines the core domain types and the collaborator
// contracts shared by the queue, worker pool and orchestrator.
package crawler

import (
	"time"

	"github.com/google/uuid"
)

// HandlerKind selects which handler a worker runs for a job.
type HandlerKind int

const (
	// KindSentinel marks the shutdown job consumed once per worker.
	KindSentinel HandlerKind = iota
	// KindListing marks a paginated search-results page.
	KindListing
	// KindDetail marks a single product detail page.
	KindDetail
)

// String returns a stable label for logging and metrics.
func (k HandlerKind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindDetail:
		return "detail"
	default:
		return "sentinel"
	}
}

// Job is one unit of crawl work: a target URL plus the handler to run it.
// Jobs are ephemeral; they live only in the queue and during execution.
type Job struct {
	URL  string
	Kind HandlerKind
}

// SentinelJob returns the distinguished no-op job that tells a worker to stop.
func SentinelJob() Job {
	return Job{Kind: KindSentinel}
}

// IsSentinel reports whether the job is the shutdown signal.
func (j Job) IsSentinel() bool {
	return j.Kind == KindSentinel
}

// Food is the scraped catalog entity. Identity is the canonical detail-page
// URL; Compliant is always derived from Ingredients at insertion time and
// never mutated independently.
type Food struct {
	ItemNumber  int
	URL         string
	Ingredients string
	Brand       string
	XSmallBreed bool
	SmallBreed  bool
	MediumBreed bool
	LargeBreed  bool
	GiantBreed  bool
	FoodForm    string
	Lifestage   string
	Compliant   bool
}

// FetchResponse is the result of one successful gateway fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Run statuses recorded for crawl runs.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
)

// CrawlRun records one crawl: when it started and the total catalog size
// observed at start. The orchestrator compares totals across runs to decide
// whether a new crawl is worth seeding.
type CrawlRun struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	TotalItems int
	Status     string
}

// ItemEvent is published after an item is stored.
type ItemEvent struct {
	URL        string    `json:"url"`
	ItemNumber int       `json:"item_number"`
	Brand      string    `json:"brand"`
	Compliant  bool      `json:"compliant"`
	StoredAt   time.Time `json:"stored_at"`
}
