package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Pool runs a Func over submitted jobs on a fixed number of goroutines.
type Pool[T, R any] struct {
	fn         Func[T, R]
	workers    int
	jobsChan   chan Job[T]
	resultChan chan Result[R]
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closed     atomic.Bool

	// Metrics
	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	totalDuration atomic.Int64
}

// NewPool starts a pool with the specified number of workers.
// If workers <= 0, it defaults to runtime.NumCPU(). Cancelling ctx stops
// the workers after their current job.
func NewPool[T, R any](ctx context.Context, fn Func[T, R], workers int) *Pool[T, R] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &Pool[T, R]{
		fn:         fn,
		workers:    workers,
		jobsChan:   make(chan Job[T], workers*2),
		resultChan: make(chan Result[R], workers*2),
		ctx:        ctx,
		cancel:     cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.resultChan)
	}()
	return p
}

// Submit queues a job, blocking while the queue is full. It returns false
// once the pool is finished or its context is done.
func (p *Pool[T, R]) Submit(job Job[T]) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobsChan <- job:
		p.jobsSubmitted.Add(1)
		return true
	}
}

// Results returns the channel of results. It is closed once Finish or
// Close has been called and every worker has exited. Results arrive in
// completion order and must be drained.
func (p *Pool[T, R]) Results() <-chan Result[R] {
	return p.resultChan
}

// Finish stops accepting jobs. Queued jobs still run. It must not race
// with Submit.
func (p *Pool[T, R]) Finish() {
	if p.closed.Swap(true) {
		return
	}
	close(p.jobsChan)
}

// Close cancels pending work, discards undelivered results and waits for
// the workers to exit.
func (p *Pool[T, R]) Close() {
	p.cancel()
	p.Finish()
	for range p.resultChan {
	}
}

// Stats returns current pool statistics.
func (p *Pool[T, R]) Stats() Stats {
	s := Stats{
		Workers:       p.workers,
		JobsSubmitted: p.jobsSubmitted.Load(),
		JobsCompleted: p.jobsCompleted.Load(),
	}
	if s.JobsCompleted > 0 {
		s.AvgDuration = time.Duration(p.totalDuration.Load() / int64(s.JobsCompleted))
	}
	return s
}

// Stats contains pool statistics.
type Stats struct {
	Workers       int
	JobsSubmitted uint64
	JobsCompleted uint64
	AvgDuration   time.Duration
}

func (p *Pool[T, R]) worker() {
	defer p.wg.Done()

	for job := range p.jobsChan {
		if p.ctx.Err() != nil {
			return
		}
		result := p.process(job)
		p.jobsCompleted.Add(1)
		p.totalDuration.Add(int64(result.Duration))

		select {
		case <-p.ctx.Done():
			return
		case p.resultChan <- result:
		}
	}
}

func (p *Pool[T, R]) process(job Job[T]) (result Result[R]) {
	start := time.Now()
	result = Result[R]{ID: job.ID, Index: job.Index}
	defer func() {
		result.Duration = time.Since(start)
	}()
	result.Value, result.Err = p.fn(p.ctx, job.Input)
	return result
}
