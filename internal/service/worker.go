package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

const DefaultConcurrency = 5

// WorkerPool processes deliveries with a fixed number of workers. Each worker
// claims the next index from a shared counter and finishes that delivery
// before claiming another, so one slow recipient never stalls the rest.
type WorkerPool struct {
	Concurrency int
}

func NewWorkerPool(concurrency int) *WorkerPool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &WorkerPool{Concurrency: concurrency}
}

// Run blocks until every delivery has been handled or ctx is cancelled. It
// returns the number of deliveries handed to handle.
func (p *WorkerPool) Run(ctx context.Context, jobs []*model.Delivery, handle func(ctx context.Context, d *model.Delivery)) int {
	var next, claimed atomic.Int64
	var wg sync.WaitGroup

	workers := min(p.Concurrency, len(jobs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				i := int(next.Add(1)) - 1
				if i >= len(jobs) {
					return
				}
				claimed.Add(1)
				handle(ctx, jobs[i])
			}
		}()
	}
	wg.Wait()
	return int(claimed.Load())
}
