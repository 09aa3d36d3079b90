package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kibblewatch/crawler/internal/crawler"
	"github.com/kibblewatch/crawler/internal/queue"
)

type fakeGateway struct {
	mu      sync.Mutex
	fetches []string
}

func (g *fakeGateway) Fetch(_ context.Context, rawURL string) (crawler.FetchResponse, error) {
	g.mu.Lock()
	g.fetches = append(g.fetches, rawURL)
	g.mu.Unlock()
	return crawler.FetchResponse{URL: rawURL, StatusCode: 200, Body: []byte("<html></html>")}, nil
}

type fakeListingParser struct {
	pageSize int
	total    int
}

func (p *fakeListingParser) ProductLinks([]byte) ([]string, error) { return nil, nil }

func (p *fakeListingParser) ResultTotals([]byte) (int, int, error) {
	return p.pageSize, p.total, nil
}

type fakeRunStore struct {
	mu        sync.Mutex
	lastTotal int
	started   []crawler.CrawlRun
	completed []uuid.UUID
	statuses  []string
}

func (s *fakeRunStore) LastTotal(context.Context) (int, error) {
	return s.lastTotal, nil
}

func (s *fakeRunStore) StartRun(_ context.Context, run crawler.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, run)
	return nil
}

func (s *fakeRunStore) CompleteRun(_ context.Context, id uuid.UUID, _ time.Time, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	s.statuses = append(s.statuses, status)
	return nil
}

// drainPool empties the queue in the background so Join can return, the
// way a real worker pool would.
type drainPool struct {
	queue   *queue.Queue
	drained []crawler.Job
	mu      sync.Mutex
	wg      sync.WaitGroup
}

func (p *drainPool) Start(context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			job := p.queue.Dequeue()
			if job.IsSentinel() {
				p.queue.MarkDone()
				return
			}
			p.mu.Lock()
			p.drained = append(p.drained, job)
			p.mu.Unlock()
			p.queue.MarkDone()
		}
	}()
}

func (p *drainPool) Shutdown() {
	p.queue.Enqueue(crawler.SentinelJob())
	p.wg.Wait()
}

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

func TestOrchestratorSeedsAllPages(t *testing.T) {
	t.Parallel()

	q := queue.New()
	pool := &drainPool{queue: q}
	gw := &fakeGateway{}
	runs := &fakeRunStore{}
	orch := New(Config{SearchURL: "https://shop.example.com/search?page="},
		q, pool, gw, &fakeListingParser{pageSize: 36, total: 100}, runs,
		stubClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())

	require.NoError(t, orch.Run(context.Background()))

	// 100 items at 36 per page is 3 listing pages.
	require.Len(t, pool.drained, 3)
	require.Equal(t, "https://shop.example.com/search?page=1", pool.drained[0].URL)
	require.Equal(t, "https://shop.example.com/search?page=3", pool.drained[2].URL)
	require.Equal(t, crawler.KindListing, pool.drained[0].Kind)

	require.Len(t, runs.started, 1)
	require.Equal(t, 100, runs.started[0].TotalItems)
	require.Equal(t, crawler.RunRunning, runs.started[0].Status)
	require.Len(t, runs.completed, 1)
	require.Equal(t, runs.started[0].ID, runs.completed[0])
	require.Equal(t, []string{crawler.RunCompleted}, runs.statuses)
	require.Zero(t, q.Outstanding())
}

func TestOrchestratorSkipsWhenCatalogUnchanged(t *testing.T) {
	t.Parallel()

	q := queue.New()
	pool := &drainPool{queue: q}
	runs := &fakeRunStore{lastTotal: 100}
	orch := New(Config{SearchURL: "https://shop.example.com/search?page="},
		q, pool, &fakeGateway{}, &fakeListingParser{pageSize: 36, total: 100}, runs,
		stubClock{}, zap.NewNop())

	require.NoError(t, orch.Run(context.Background()))

	require.Empty(t, runs.started, "gated run must not be recorded")
	require.Empty(t, pool.drained)
}

func TestOrchestratorForceOverridesGate(t *testing.T) {
	t.Parallel()

	q := queue.New()
	pool := &drainPool{queue: q}
	runs := &fakeRunStore{lastTotal: 100}
	orch := New(Config{SearchURL: "https://shop.example.com/search?page=", Force: true},
		q, pool, &fakeGateway{}, &fakeListingParser{pageSize: 36, total: 100}, runs,
		stubClock{}, zap.NewNop())

	require.NoError(t, orch.Run(context.Background()))
	require.Len(t, runs.started, 1)
}

func TestOrchestratorPageCapLimitsSeeding(t *testing.T) {
	t.Parallel()

	q := queue.New()
	pool := &drainPool{queue: q}
	orch := New(Config{SearchURL: "https://shop.example.com/search?page=", Pages: 2},
		q, pool, &fakeGateway{}, &fakeListingParser{pageSize: 36, total: 3513}, &fakeRunStore{},
		stubClock{}, zap.NewNop())

	require.NoError(t, orch.Run(context.Background()))
	require.Len(t, pool.drained, 2)
}
