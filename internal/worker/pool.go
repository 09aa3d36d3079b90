package worker

import (
	"context"
	"sync"

	"github.com/kibblewatch/crawler/internal/crawler"
)

// Pool runs a fixed set of workers over one shared queue. The pool never
// grows or shrinks while running; work elasticity comes from the queue.
type Pool struct {
	queue   crawler.JobQueue
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool builds a pool over already-constructed workers sharing queue.
func NewPool(queue crawler.JobQueue, workers []*Worker) *Pool {
	return &Pool{queue: queue, workers: workers}
}

// Start launches every worker. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Shutdown enqueues one sentinel per worker and blocks until all workers
// have exited. Callers drain the queue with Join before shutting down so
// sentinels land behind any remaining real jobs.
func (p *Pool) Shutdown() {
	for range p.workers {
		p.queue.Enqueue(crawler.SentinelJob())
	}
	p.wg.Wait()
}

// Size reports the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}
