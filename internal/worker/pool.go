// Package worker runs blocking channel calls off the tick and event goroutines.
package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task is a unit of background work. Tasks run to completion; the pool never cancels them.
// A panicking task is logged and counted as completed; tasks that promise a
// result to a caller must recover and report it themselves.
type Task func(ctx context.Context)

// Pool is a fixed set of goroutines draining a bounded task queue.
type Pool struct {
	name   string
	ctx    context.Context
	jobs   chan Task
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
}

// NewPool starts workers goroutines. Tasks receive ctx.
func NewPool(ctx context.Context, name string, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}

	p := &Pool{
		name:   name,
		ctx:    ctx,
		jobs:   make(chan Task, queueSize),
		logger: logger.With(zap.String("pool", name)),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.worker(workerID)
		}(i)
	}

	p.logger.Debug("worker pool started",
		zap.Int("workers", workers),
		zap.Int("queue", queueSize),
	)
	return p
}

// Submit queues task without blocking. It returns false when the pool is
// stopped or the queue is full.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return false
	}

	select {
	case p.jobs <- task:
		p.submitted.Add(1)
		return true
	default:
		p.rejected.Add(1)
		p.logger.Warn("worker queue full, task rejected")
		return false
	}
}

// Stop closes intake and waits for queued and running tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("worker pool stopped",
		zap.Uint64("completed", p.completed.Load()),
		zap.Uint64("rejected", p.rejected.Load()),
	)
}

// Metrics returns task counters.
func (p *Pool) Metrics() (submitted, completed, rejected uint64) {
	return p.submitted.Load(), p.completed.Load(), p.rejected.Load()
}

func (p *Pool) worker(id int) {
	for task := range p.jobs {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.Int("worker", id),
				zap.Any("panic", r),
			)
		}
	}()
	task(p.ctx)
}
