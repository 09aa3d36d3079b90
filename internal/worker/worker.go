// Package worker implements the crawl execution loop: long-lived workers
// draining the job queue, fanning listing pages out into detail jobs and
// persisting scraped items exactly once.
package worker

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kibblewatch/crawler/internal/classify"
	"github.com/kibblewatch/crawler/internal/crawler"
	"github.com/kibblewatch/crawler/internal/metrics"
)

const archiveContentType = "text/html; charset=utf-8"

// Config controls Worker behavior.
type Config struct {
	// BaseURL prefixes relative product links from listing pages.
	BaseURL string
	// Delay is the politeness pause after any job that performed a
	// network request.
	Delay time.Duration
	// ArchivePrefix is the path prefix for archived raw pages.
	ArchivePrefix string
	// Topic names the stored-item event topic; empty disables publishing.
	Topic string
}

// Worker drains the queue and executes one job at a time. Workers are
// homogeneous and stateless beyond the shared queue and store handles.
type Worker struct {
	queue     crawler.JobQueue
	gateway   crawler.Gateway
	listings  crawler.ListingParser
	details   crawler.DetailParser
	store     crawler.ItemStore
	seen      crawler.SeenCache
	publisher crawler.Publisher
	archive   crawler.BlobStore
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. seen, publisher and archive may be nil.
func New(
	queue crawler.JobQueue,
	gw crawler.Gateway,
	listings crawler.ListingParser,
	details crawler.DetailParser,
	store crawler.ItemStore,
	seen crawler.SeenCache,
	publisher crawler.Publisher,
	archive crawler.BlobStore,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Delay <= 0 {
		cfg.Delay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		gateway:   gw,
		listings:  listings,
		details:   details,
		store:     store,
		seen:      seen,
		publisher: publisher,
		archive:   archive,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes jobs until the sentinel arrives. After any job that made a
// network request the worker pauses for the configured delay before the
// next dequeue; jobs that short-circuit without a request skip the delay.
func (w *Worker) Run(ctx context.Context) {
	for {
		job := w.queue.Dequeue()
		if job.IsSentinel() {
			w.queue.MarkDone()
			return
		}

		metrics.WorkerStarted()
		requested := w.process(ctx, job)
		metrics.WorkerFinished()

		w.queue.MarkDone()
		if requested {
			time.Sleep(w.cfg.Delay)
		}
	}
}

func (w *Worker) process(ctx context.Context, job crawler.Job) bool {
	metrics.IncJob(job.Kind.String())
	switch job.Kind {
	case crawler.KindListing:
		return w.handleListing(ctx, job.URL)
	case crawler.KindDetail:
		return w.handleDetail(ctx, job.URL)
	default:
		w.logger.Error("unknown job kind", zap.Int("kind", int(job.Kind)), zap.String("url", job.URL))
		return false
	}
}

// handleListing fetches one page of search results and enqueues a detail
// job per linked product.
func (w *Worker) handleListing(ctx context.Context, pageURL string) bool {
	resp, err := w.gateway.Fetch(ctx, pageURL)
	if err != nil {
		w.logger.Error("listing fetch failed, skipping page",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return !errors.Is(err, crawler.ErrNotAttempted)
	}

	links, err := w.listings.ProductLinks(resp.Body)
	if err != nil {
		w.logger.Error("listing parse failed, skipping page",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return true
	}

	for _, href := range links {
		w.queue.Enqueue(crawler.Job{
			URL:  w.absoluteURL(href),
			Kind: crawler.KindDetail,
		})
	}
	w.logger.Debug("listing page processed",
		zap.String("url", pageURL),
		zap.Int("products", len(links)),
	)
	return true
}

// handleDetail scrapes one product page unless it is already cataloged.
// The seen-cache and existence check are fast paths only; the store's
// unique constraint settles the race when two workers pass both checks for
// the same URL.
func (w *Worker) handleDetail(ctx context.Context, pageURL string) bool {
	canonical := crawler.CanonicalURL(pageURL)

	if w.seen != nil {
		seen, err := w.seen.Seen(ctx, canonical)
		if err != nil {
			w.logger.Warn("seen cache unavailable", zap.String("url", canonical), zap.Error(err))
		} else if seen {
			w.logger.Debug("skipping cached duplicate", zap.String("url", canonical))
			return false
		}
	}

	if w.store.Exists(ctx, canonical) {
		w.logger.Debug("skipping cataloged item", zap.String("url", canonical))
		return false
	}

	resp, err := w.gateway.Fetch(ctx, pageURL)
	if err != nil {
		w.logger.Error("detail fetch failed, skipping item",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		w.forget(ctx, canonical)
		return !errors.Is(err, crawler.ErrNotAttempted)
	}

	w.archivePage(ctx, canonical, resp.Body)

	food, diets, err := w.details.Detail(resp.Body, pageURL)
	if err != nil {
		w.logger.Error("detail parse failed, skipping item",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		w.forget(ctx, canonical)
		return true
	}
	food.Compliant = classify.Compliant(food.Ingredients)

	if err := w.store.Insert(ctx, food, diets); err != nil {
		if errors.Is(err, crawler.ErrDuplicateItem) {
			metrics.IncDuplicateItem()
			w.logger.Info("item inserted concurrently by another worker",
				zap.String("url", food.URL),
			)
		} else {
			w.logger.Error("item insert failed",
				zap.String("url", food.URL),
				zap.Error(err),
			)
			w.forget(ctx, canonical)
		}
		return true
	}

	metrics.IncItemStored()
	w.publishStored(ctx, food)
	return true
}

func (w *Worker) publishStored(ctx context.Context, food crawler.Food) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := crawler.ItemEvent{
		URL:        food.URL,
		ItemNumber: food.ItemNumber,
		Brand:      food.Brand,
		Compliant:  food.Compliant,
		StoredAt:   w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("item event publish failed",
			zap.String("url", food.URL),
			zap.Error(err),
		)
	}
}

func (w *Worker) archivePage(ctx context.Context, canonical string, body []byte) {
	if w.archive == nil || len(body) == 0 {
		return
	}
	path := archivePath(w.cfg.ArchivePrefix, canonical)
	uri, err := w.archive.PutObject(ctx, path, archiveContentType, body)
	if err != nil {
		w.logger.Warn("page archive failed", zap.String("url", canonical), zap.Error(err))
		return
	}
	w.logger.Debug("page archived", zap.String("url", canonical), zap.String("blob_uri", uri))
}

// forget clears the seen-cache mark for a URL whose item never landed, so
// a later run retries it.
func (w *Worker) forget(ctx context.Context, canonical string) {
	if w.seen == nil {
		return
	}
	if err := w.seen.Forget(ctx, canonical); err != nil {
		w.logger.Warn("seen cache forget failed", zap.String("url", canonical), zap.Error(err))
	}
}

func (w *Worker) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base := strings.TrimRight(w.cfg.BaseURL, "/")
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return base + href
}

// archivePath flattens the canonical URL path into one blob name.
func archivePath(prefix, canonical string) string {
	name := canonical
	if u, err := url.Parse(canonical); err == nil && u.Path != "" {
		name = strings.Trim(u.Path, "/")
	}
	name = strings.ReplaceAll(name, "/", "_") + ".html"
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
