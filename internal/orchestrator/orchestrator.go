// Package orchestrator drives a full crawl: it sizes the run from the
// site's reported result totals, seeds the listing-page jobs, drains the
// queue through the worker pool and records the run outcome.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kibblewatch/crawler/internal/crawler"
)

// Pool is the slice of the worker pool the orchestrator needs.
type Pool interface {
	Start(ctx context.Context)
	Shutdown()
}

// Config controls run sizing and gating.
type Config struct {
	// SearchURL is the listing URL prefix; the page number is appended.
	SearchURL string
	// Pages forces a fixed page count when positive; zero means size the
	// run from the site's reported totals.
	Pages int
	// Force runs the crawl even when the catalog has not grown since the
	// last recorded run.
	Force bool
}

// Orchestrator coordinates one crawl run end to end.
type Orchestrator struct {
	cfg      Config
	queue    crawler.JobQueue
	pool     Pool
	gateway  crawler.Gateway
	listings crawler.ListingParser
	runs     crawler.RunStore
	clock    crawler.Clock
	logger   *zap.Logger
}

func New(
	cfg Config,
	queue crawler.JobQueue,
	pool Pool,
	gw crawler.Gateway,
	listings crawler.ListingParser,
	runs crawler.RunStore,
	clock crawler.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		queue:    queue,
		pool:     pool,
		gateway:  gw,
		listings: listings,
		runs:     runs,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes one crawl. It returns nil both on a completed crawl and
// when the run gate decides the catalog has nothing new.
func (o *Orchestrator) Run(ctx context.Context) error {
	pages, total, err := o.discoverTotals(ctx)
	if err != nil {
		return fmt.Errorf("discover result totals: %w", err)
	}

	last, err := o.runs.LastTotal(ctx)
	if err != nil {
		return fmt.Errorf("load previous run total: %w", err)
	}
	if total <= last && !o.cfg.Force {
		o.logger.Info("catalog has not grown since the last run, skipping",
			zap.Int("total", total),
			zap.Int("previous_total", last),
		)
		return nil
	}

	runID := uuid.New()
	startedAt := o.clock.Now()
	if err := o.runs.StartRun(ctx, crawler.CrawlRun{
		ID:         runID,
		StartedAt:  startedAt,
		TotalItems: total,
		Status:     crawler.RunRunning,
	}); err != nil {
		return fmt.Errorf("record run start: %w", err)
	}

	o.logger.Info("starting crawl run",
		zap.String("run_id", runID.String()),
		zap.Int("pages", pages),
		zap.Int("total_items", total),
	)

	for i := 1; i <= pages; i++ {
		o.queue.Enqueue(crawler.Job{
			URL:  o.cfg.SearchURL + strconv.Itoa(i),
			Kind: crawler.KindListing,
		})
	}

	o.pool.Start(ctx)
	o.queue.Join()
	o.pool.Shutdown()

	finishedAt := o.clock.Now()
	if err := o.runs.CompleteRun(ctx, runID, finishedAt, crawler.RunCompleted); err != nil {
		return fmt.Errorf("record run completion: %w", err)
	}

	o.logger.Info("crawl run completed",
		zap.String("run_id", runID.String()),
		zap.Duration("elapsed", finishedAt.Sub(startedAt)),
	)
	return nil
}

// discoverTotals fetches the first results page to learn the page size
// and total item count, then derives the page count.
func (o *Orchestrator) discoverTotals(ctx context.Context) (pages, total int, err error) {
	resp, err := o.gateway.Fetch(ctx, o.cfg.SearchURL+"1")
	if err != nil {
		return 0, 0, fmt.Errorf("fetch first results page: %w", err)
	}
	pageSize, total, err := o.listings.ResultTotals(resp.Body)
	if err != nil {
		return 0, 0, err
	}
	pages = ceilDiv(total, pageSize)
	if o.cfg.Pages > 0 && o.cfg.Pages < pages {
		pages = o.cfg.Pages
	}
	return pages, total, nil
}

func ceilDiv(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
