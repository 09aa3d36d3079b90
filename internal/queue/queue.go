// Package queue implements the crawl job queue: an unbounded FIFO with
// task accounting so callers can wait for the transitive job graph to drain.
package queue

import (
	"sync"

	"github.com/kibblewatch/crawler/internal/crawler"
)

// Queue is a thread-safe counting FIFO. Every Enqueue increments an
// outstanding counter that only MarkDone decrements, so Join waits for jobs
// that are enqueued while other jobs are still in flight (a listing job
// fanning out detail jobs keeps Join blocked until those finish too).
type Queue struct {
	mu          sync.Mutex
	jobs        []crawler.Job
	outstanding int
	notEmpty    *sync.Cond
	idle        *sync.Cond
}

// New constructs an empty queue.
func New() *Queue {
	q := &Queue{}
	q.notEmpty = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a job to the tail. It never blocks and never drops.
func (q *Queue) Enqueue(job crawler.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.outstanding++
	q.notEmpty.Signal()
}

// Dequeue removes and returns the head job, blocking until one is available.
func (q *Queue) Dequeue() crawler.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 {
		q.notEmpty.Wait()
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job
}

// MarkDone records that a previously dequeued job has finished. Calling it
// more times than Enqueue is a programming error.
func (q *Queue) MarkDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding <= 0 {
		panic("queue: MarkDone called more times than Enqueue")
	}
	q.outstanding--
	if q.outstanding == 0 {
		q.idle.Broadcast()
	}
}

// Join blocks until every enqueued job has been marked done.
func (q *Queue) Join() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.outstanding > 0 {
		q.idle.Wait()
	}
}

// Outstanding returns the number of jobs enqueued but not yet marked done.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// Len returns the number of jobs waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
