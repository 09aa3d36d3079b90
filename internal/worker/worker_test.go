package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kibblewatch/crawler/internal/crawler"
	"github.com/kibblewatch/crawler/internal/publisher/memory"
	"github.com/kibblewatch/crawler/internal/queue"
)

type fakeGateway struct {
	mu      sync.Mutex
	fetches []string
	pages   map[string][]byte
	err     error
}

func (g *fakeGateway) Fetch(_ context.Context, rawURL string) (crawler.FetchResponse, error) {
	g.mu.Lock()
	g.fetches = append(g.fetches, rawURL)
	g.mu.Unlock()
	if g.err != nil {
		return crawler.FetchResponse{}, g.err
	}
	body := g.pages[rawURL]
	if body == nil {
		body = []byte("<html></html>")
	}
	return crawler.FetchResponse{URL: rawURL, StatusCode: 200, Body: body}, nil
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.fetches)
}

type fakeListingParser struct {
	links []string
	err   error
}

func (p *fakeListingParser) ProductLinks([]byte) ([]string, error) {
	return p.links, p.err
}

func (p *fakeListingParser) ResultTotals([]byte) (int, int, error) {
	return 36, len(p.links), nil
}

type fakeDetailParser struct {
	food  crawler.Food
	diets []string
	err   error
}

func (p *fakeDetailParser) Detail(_ []byte, pageURL string) (crawler.Food, []string, error) {
	if p.err != nil {
		return crawler.Food{}, nil, p.err
	}
	f := p.food
	f.URL = crawler.CanonicalURL(pageURL)
	return f, p.diets, nil
}

type fakeStore struct {
	mu        sync.Mutex
	existing  map[string]bool
	inserted  []crawler.Food
	insertErr error
	inserts   atomic.Int64
}

func (s *fakeStore) Exists(_ context.Context, rawURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[crawler.CanonicalURL(rawURL)]
}

func (s *fakeStore) Insert(_ context.Context, food crawler.Food, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	key := crawler.CanonicalURL(food.URL)
	if s.existing == nil {
		s.existing = map[string]bool{}
	}
	if s.existing[key] {
		return fmt.Errorf("insert %s: %w", key, crawler.ErrDuplicateItem)
	}
	s.existing[key] = true
	s.inserted = append(s.inserted, food)
	s.inserts.Add(1)
	return nil
}

type fakeSeen struct {
	mu     sync.Mutex
	marked map[string]bool
	err    error
}

func (c *fakeSeen) Seen(_ context.Context, rawURL string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.marked == nil {
		c.marked = map[string]bool{}
	}
	if c.marked[rawURL] {
		return true, nil
	}
	c.marked[rawURL] = true
	return false, nil
}

func (c *fakeSeen) Forget(_ context.Context, rawURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.marked, rawURL)
	return nil
}

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

func newTestWorker(t *testing.T, q crawler.JobQueue, gw crawler.Gateway, lp crawler.ListingParser, dp crawler.DetailParser, store crawler.ItemStore, seen crawler.SeenCache, pub crawler.Publisher) *Worker {
	t.Helper()
	return New(q, gw, lp, dp, store, seen, pub, nil, stubClock{now: time.Unix(1700000000, 0).UTC()}, Config{
		BaseURL: "https://shop.example.com",
		Delay:   time.Millisecond,
		Topic:   "items",
	}, zap.NewNop())
}

func TestWorkerListingFanOut(t *testing.T) {
	t.Parallel()

	q := queue.New()
	gw := &fakeGateway{}
	lp := &fakeListingParser{links: []string{
		"/dog-food/kibble-chicken/12345",
		"https://shop.example.com/dog-food/kibble-beef/23456",
	}}
	w := newTestWorker(t, q, gw, lp, &fakeDetailParser{}, &fakeStore{}, nil, nil)

	q.Enqueue(crawler.Job{URL: "https://shop.example.com/search?page=1", Kind: crawler.KindListing})

	requested := w.process(context.Background(), q.Dequeue())
	q.MarkDone()
	require.True(t, requested)

	require.Equal(t, 2, q.Len())
	first := q.Dequeue()
	require.Equal(t, crawler.KindDetail, first.Kind)
	require.Equal(t, "https://shop.example.com/dog-food/kibble-chicken/12345", first.URL)
	second := q.Dequeue()
	require.Equal(t, "https://shop.example.com/dog-food/kibble-beef/23456", second.URL)
}

func TestWorkerDetailStoresAndPublishes(t *testing.T) {
	t.Parallel()

	q := queue.New()
	gw := &fakeGateway{}
	store := &fakeStore{}
	pub := memory.New()
	dp := &fakeDetailParser{
		food:  crawler.Food{ItemNumber: 123456, Brand: "Acme", Ingredients: "chicken, rice"},
		diets: []string{"Grain Free"},
	}
	w := newTestWorker(t, q, gw, &fakeListingParser{}, dp, store, nil, pub)

	requested := w.handleDetail(context.Background(), "https://shop.example.com/dog-food/kibble/12345")
	require.True(t, requested)

	require.Len(t, store.inserted, 1)
	require.Equal(t, 123456, store.inserted[0].ItemNumber)
	require.True(t, store.inserted[0].Compliant)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "items", msgs[0].Topic)
}

func TestWorkerDetailSkipsCatalogedWithoutFetch(t *testing.T) {
	t.Parallel()

	q := queue.New()
	gw := &fakeGateway{}
	store := &fakeStore{existing: map[string]bool{
		"https://shop.example.com/dog-food/kibble": true,
	}}
	w := newTestWorker(t, q, gw, &fakeListingParser{}, &fakeDetailParser{}, store, nil, nil)

	requested := w.handleDetail(context.Background(), "https://shop.example.com/dog-food/kibble/12345")

	require.False(t, requested, "skipped item must not trigger the politeness delay")
	require.Zero(t, gw.fetchCount())
}

func TestWorkerDetailSeenCacheFastPath(t *testing.T) {
	t.Parallel()

	q := queue.New()
	gw := &fakeGateway{}
	seen := &fakeSeen{}
	store := &fakeStore{}
	dp := &fakeDetailParser{food: crawler.Food{ItemNumber: 1, Ingredients: "chicken"}}
	w := newTestWorker(t, q, gw, &fakeListingParser{}, dp, store, seen, nil)

	require.True(t, w.handleDetail(context.Background(), "https://shop.example.com/dog-food/kibble/12345"))
	// Size variants canonicalize to the same key, so the second hit is
	// answered by the cache before any network traffic.
	require.False(t, w.handleDetail(context.Background(), "https://shop.example.com/dog-food/kibble/67890"))
	require.Equal(t, 1, gw.fetchCount())
}

func TestWorkerDetailParseFailureForgetsSeenMark(t *testing.T) {
	t.Parallel()

	q := queue.New()
	seen := &fakeSeen{}
	dp := &fakeDetailParser{err: errors.New("item number not found")}
	w := newTestWorker(t, q, &fakeGateway{}, &fakeListingParser{}, dp, &fakeStore{}, seen, nil)

	requested := w.handleDetail(context.Background(), "https://shop.example.com/dog-food/kibble/12345")

	require.True(t, requested, "a request was made, the delay still applies")
	seen.mu.Lock()
	defer seen.mu.Unlock()
	require.Empty(t, seen.marked, "abandoned page must be retryable on the next run")
}

func TestWorkerDetailDuplicateInsertIsNotFatal(t *testing.T) {
	t.Parallel()

	q := queue.New()
	store := &fakeStore{insertErr: fmt.Errorf("insert: %w", crawler.ErrDuplicateItem)}
	dp := &fakeDetailParser{food: crawler.Food{ItemNumber: 1, Ingredients: "chicken"}}
	pub := memory.New()
	w := newTestWorker(t, q, &fakeGateway{}, &fakeListingParser{}, dp, store, nil, pub)

	requested := w.handleDetail(context.Background(), "https://shop.example.com/dog-food/kibble/12345")

	require.True(t, requested)
	require.Empty(t, pub.Messages(), "duplicate insert must not publish an event")
}

func TestWorkerFetchNotAttemptedSkipsDelay(t *testing.T) {
	t.Parallel()

	q := queue.New()
	gw := &fakeGateway{err: fmt.Errorf("%w: limiter wait canceled", crawler.ErrNotAttempted)}
	w := newTestWorker(t, q, gw, &fakeListingParser{}, &fakeDetailParser{}, &fakeStore{}, nil, nil)

	require.False(t, w.handleDetail(context.Background(), "https://shop.example.com/dog-food/kibble/12345"))
	require.False(t, w.handleListing(context.Background(), "https://shop.example.com/search?page=1"))
}

func TestPoolConcurrentWorkersInsertOnce(t *testing.T) {
	t.Parallel()

	q := queue.New()
	gw := &fakeGateway{}
	store := &fakeStore{}
	dp := &fakeDetailParser{food: crawler.Food{ItemNumber: 1, Ingredients: "chicken"}}

	workers := make([]*Worker, 4)
	for i := range workers {
		workers[i] = newTestWorker(t, q, gw, &fakeListingParser{}, dp, store, nil, nil)
	}
	pool := NewPool(q, workers)
	require.Equal(t, 4, pool.Size())

	// Every job is a size variant of the same product; exactly one row
	// may land regardless of interleaving.
	for i := 0; i < 8; i++ {
		q.Enqueue(crawler.Job{
			URL:  fmt.Sprintf("https://shop.example.com/dog-food/kibble/%05d", 10000+i),
			Kind: crawler.KindDetail,
		})
	}

	pool.Start(context.Background())
	q.Join()
	pool.Shutdown()

	require.Equal(t, int64(1), store.inserts.Load())
	require.Zero(t, q.Outstanding(), "sentinels and jobs must all be marked done")
}

func TestPoolShutdownStopsIdleWorkers(t *testing.T) {
	t.Parallel()

	q := queue.New()
	workers := []*Worker{
		newTestWorker(t, q, &fakeGateway{}, &fakeListingParser{}, &fakeDetailParser{}, &fakeStore{}, nil, nil),
		newTestWorker(t, q, &fakeGateway{}, &fakeListingParser{}, &fakeDetailParser{}, &fakeStore{}, nil, nil),
	}
	pool := NewPool(q, workers)
	pool.Start(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not shut down")
	}
}
