// Package workerpool provides the bounded execution capacity shared by all connection handlers.
//
// A Pool is a counting semaphore (a buffered channel) plus a WaitGroup: every task occupies one
// slot while it runs on its own goroutine. Handlers offload CPU-bound or blocking work (store
// access, pushes to peers) so their read loops keep draining the socket.
package workerpool

import (
	"context"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("om/pool")

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = errors.New("worker pool closed")

// Task is a unit of work executed by the pool
type Task func()

// Pool limits the number of concurrently running tasks
type Pool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex // guards closed against concurrent Submit/Close
	closed bool
	quit   chan struct{}
}

// New creates a pool with the given capacity (at least one)
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		slots: make(chan struct{}, size),
		quit:  make(chan struct{}),
	}
}

// Submit runs task on the pool. It blocks until a slot is free, the context is done or the
// pool is closed.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
	return p.start(task)
}

// TrySubmit runs task only if a slot is free right now
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}
	return p.start(task) == nil
}

// Capacity returns the maximum number of concurrent tasks
func (p *Pool) Capacity() int {
	return cap(p.slots)
}

// Running returns the number of currently running tasks
func (p *Pool) Running() int {
	return len(p.slots)
}

// Close rejects new tasks and waits for the running ones
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.quit)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// start launches task, the caller already holds a slot
func (p *Pool) start(task Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		<-p.slots
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Errorf("Task panicked: %v", r)
			}
			<-p.slots
			p.wg.Done()
		}()
		task()
	}()
	return nil
}
