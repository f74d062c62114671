package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("server: worker pool closed")
	ErrQueueFull  = errors.New("server: worker queue full")
)

// Task is one unit of pool work. ctx is cancelled when the pool is forced
// down.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of workers fed by a bounded FIFO queue.
type Pool struct {
	queue   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	workers int
	busy    atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines. queueDepth may be zero, in which case
// Submit only succeeds while a worker is idle.
func NewPool(workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan Task, queueDepth),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		workers: workers,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.queue {
		p.busy.Add(1)
		task(p.ctx)
		p.busy.Add(-1)
	}
}

// Submit enqueues t without blocking.
func (p *Pool) Submit(t Task) error {
	return p.SubmitWait(t, 0)
}

// SubmitWait enqueues t, waiting up to timeout for a queue slot or an idle
// worker. It returns ErrQueueFull when the wait runs out. Shutdown blocks
// while a SubmitWait is pending.
func (p *Pool) SubmitWait(t Task, timeout time.Duration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if timeout <= 0 {
		select {
		case p.queue <- t:
			return nil
		default:
			return ErrQueueFull
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p.queue <- t:
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

// Shutdown stops intake. Queued tasks still run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Cancel cancels the context every running and queued task observes.
func (p *Pool) Cancel() {
	p.cancel()
}

// AwaitTermination reports whether every worker exited within timeout.
func (p *Pool) AwaitTermination(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

func (p *Pool) Workers() int { return p.workers }

func (p *Pool) Busy() int { return int(p.busy.Load()) }

func (p *Pool) Queued() int { return len(p.queue) }
