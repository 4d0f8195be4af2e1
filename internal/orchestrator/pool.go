package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics counts work processed by the pool since creation.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolClosed is returned when work is submitted after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// workerPool bounds how many task goroutines run at once in parallel
// mode. Submissions block while the pool is at capacity and respect
// context cancellation while waiting.
type workerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit runs fn on a pool goroutine once a slot frees up. Task-level
// failures live in TaskResults, so fn returns nothing; the pool only
// tracks panics that escape it.
func (p *workerPool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}

	// Re-check closed after acquiring the slot in case Close raced.
	// wg.Add must happen inside the lock so Close's wg.Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolClosed
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
			} else {
				atomic.AddInt64(&p.metrics.Completed, 1)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		fn(ctx)
	}()

	return nil
}

// Wait blocks until all submitted work completes.
func (p *workerPool) Wait() {
	p.wg.Wait()
}

// Close prevents new submissions and waits for active work to finish.
func (p *workerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *workerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
