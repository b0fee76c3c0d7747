package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool runs a fixed number of goroutines that handle enrollment ids.
type Pool struct {
	numWorkers int
	jobs       chan int64
	handle     func(ctx context.Context, enrollmentID int64)
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, handle func(ctx context.Context, enrollmentID int64), logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan int64, numWorkers*2),
		handle:     handle,
		logger:     logger,
	}
}

// Start launches the workers. They drain the jobs channel until Stop closes
// it; once ctx is cancelled remaining jobs are dropped.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Debug("worker pool started", "num_workers", p.numWorkers)
}

func (p *Pool) Submit(enrollmentID int64) {
	p.jobs <- enrollmentID
}

// Stop closes the jobs channel and waits for the workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Debug("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for id := range p.jobs {
		if ctx.Err() != nil {
			continue
		}
		p.handle(ctx, id)
	}
}
