// Package tasks runs detached CPU work for the world loop.
//
// The world loop never blocks on results: it submits a closure, keeps the
// returned Future, and polls it once per tick.
package tasks

import (
	"context"
	"sync"
	"sync/atomic"
)

// Executor runs fn on some goroutine, eventually.
type Executor interface {
	Go(fn func())
}

// Pool is a fixed set of workers draining an unbounded FIFO.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	wg      sync.WaitGroup
	running atomic.Int64
	done    atomic.Uint64
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) Go(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, fn)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.running.Add(1)
		fn()
		p.running.Add(-1)
		p.done.Add(1)
	}
}

// Close stops accepting work, lets queued work finish and waits for workers.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

type PoolStats struct {
	Queued    int    `json:"queued"`
	Running   int64  `json:"running"`
	Completed uint64 `json:"completed"`
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	q := len(p.queue)
	p.mu.Unlock()
	return PoolStats{Queued: q, Running: p.running.Load(), Completed: p.done.Load()}
}

// Future is the result slot of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
}

// Submit schedules fn on ex.
func Submit[T any](ex Executor, fn func() T) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	ex.Go(func() {
		f.val = fn()
		close(f.done)
	})
	return f
}

// Poll returns the value if the task has finished. It never blocks.
func (f *Future[T]) Poll() (T, bool) {
	select {
	case <-f.done:
		return f.val, true
	default:
		var zero T
		return zero, false
	}
}

func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Inline runs tasks synchronously on the caller.
type Inline struct{}

func (Inline) Go(fn func()) { fn() }

// Manual queues tasks until the caller runs them; completion order is
// fully controlled by the test.
type Manual struct {
	mu    sync.Mutex
	queue []func()
}

func (m *Manual) Go(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Run executes the i-th queued task and removes it.
func (m *Manual) Run(i int) {
	m.mu.Lock()
	fn := m.queue[i]
	m.queue = append(m.queue[:i], m.queue[i+1:]...)
	m.mu.Unlock()
	fn()
}

// RunAll drains the queue, including tasks queued while draining.
func (m *Manual) RunAll() {
	for m.Len() > 0 {
		m.Run(0)
	}
}
