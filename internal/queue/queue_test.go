package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kibblewatch/crawler/internal/crawler"
)

func TestQueueFIFOOrder(t *testing.T) {
	t.Parallel()

	q := New()
	q.Enqueue(crawler.Job{URL: "a", Kind: crawler.KindListing})
	q.Enqueue(crawler.Job{URL: "b", Kind: crawler.KindDetail})

	if got := q.Dequeue(); got.URL != "a" {
		t.Fatalf("first Dequeue() = %q, want a", got.URL)
	}
	if got := q.Dequeue(); got.URL != "b" {
		t.Fatalf("second Dequeue() = %q, want b", got.URL)
	}
	if got := q.Outstanding(); got != 2 {
		t.Fatalf("Outstanding() = %d after dequeue without MarkDone, want 2", got)
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := New()
	got := make(chan crawler.Job, 1)
	go func() { got <- q.Dequeue() }()

	time.Sleep(10 * time.Millisecond) // allow goroutine to block
	q.Enqueue(crawler.Job{URL: "late", Kind: crawler.KindDetail})

	select {
	case job := <-got:
		if job.URL != "late" {
			t.Fatalf("Dequeue() = %q, want late", job.URL)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Enqueue")
	}
}

// Join must not return while in-flight jobs are still fanning out new work:
// K listing jobs each enqueue M detail jobs from inside their handler.
func TestQueueJoinWaitsForTransitiveJobs(t *testing.T) {
	t.Parallel()

	const (
		listings = 4
		fanOut   = 3
		workers  = 3
	)

	q := New()
	var handled atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job := q.Dequeue()
				if job.IsSentinel() {
					q.MarkDone()
					return
				}
				handled.Add(1)
				if job.Kind == crawler.KindListing {
					for d := 0; d < fanOut; d++ {
						q.Enqueue(crawler.Job{URL: "detail", Kind: crawler.KindDetail})
					}
				}
				q.MarkDone()
			}
		}()
	}

	for i := 0; i < listings; i++ {
		q.Enqueue(crawler.Job{URL: "listing", Kind: crawler.KindListing})
	}
	q.Join()

	if got, want := handled.Load(), int64(listings+listings*fanOut); got != want {
		t.Fatalf("handled %d jobs before Join returned, want %d", got, want)
	}

	for i := 0; i < workers; i++ {
		q.Enqueue(crawler.SentinelJob())
	}
	wg.Wait()

	if got := q.Outstanding(); got != 0 {
		t.Fatalf("Outstanding() = %d after shutdown, want 0", got)
	}
}

func TestQueueJoinReturnsImmediatelyWhenIdle(t *testing.T) {
	t.Parallel()

	q := New()
	done := make(chan struct{})
	go func() {
		q.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join blocked on an idle queue")
	}
}

func TestQueueMarkDonePanicsWithoutEnqueue(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic from unbalanced MarkDone")
		}
	}()
	New().MarkDone()
}
