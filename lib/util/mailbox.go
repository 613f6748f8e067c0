// Package util provides a lock-free multi-producer single-consumer (MPSC) mailbox.
//
// Features and Guarantees:
//
//   - Lock-Free writes: producers append with atomic compare-and-swap, no mutex on the hot path
//   - Unbounded Size: limits (e.g. queue depth per peer) are enforced by the consumer
//   - Single Consumer: values are handed out one by one over the Recv() channel, which makes the
//     consumer goroutine the only owner of whatever state it mutates in response
//   - Per-Producer FIFO: values pushed by one goroutine are received in push order; across
//     producers the order is decided by who wins the append
//   - Drain on Close: values pushed before Close are still delivered, then Recv() is closed
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// cell is a single element of the linked list
type cell[T any] struct {
	value T
	next  atomic.Pointer[cell[T]]
}

// Mailbox is a lock-free multi-producer single-consumer queue.
// Producers call Push, exactly one goroutine reads from Recv.
type Mailbox[T any] struct {
	head   atomic.Pointer[cell[T]] // sentinel, owned by the pump goroutine
	tail   atomic.Pointer[cell[T]]
	out    chan T
	closed atomic.Bool
	done   chan struct{}

	// pushing counts Push calls between their closed check and their append
	pushing atomic.Int64

	// wake up the pump when it ran dry
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMailbox creates a mailbox and starts the goroutine that feeds Recv()
func NewMailbox[T any]() *Mailbox[T] {
	sentinel := &cell[T]{}

	m := &Mailbox[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	m.head.Store(sentinel)
	m.tail.Store(sentinel)

	go m.pump()

	return m
}

// Push appends a value. It returns false if the mailbox is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Mailbox[T]) Push(value T) bool {
	// registered before the closed check, the pump does not exit while a push is in flight
	m.pushing.Add(1)
	defer m.wake()

	if m.closed.Load() {
		m.pushing.Add(-1)
		return false
	}

	c := &cell[T]{value: value}

	var spins uint8
	for {
		last := m.tail.Load()
		next := last.next.Load()

		if next != nil {
			// another producer appended but did not move the tail yet, help it
			m.tail.CompareAndSwap(last, next)
		} else if last.next.CompareAndSwap(nil, c) {
			// appended, a failing CAS here means another producer already moved the tail
			m.tail.CompareAndSwap(last, c)
			m.pushing.Add(-1)
			return true
		}

		// back off under contention: spin a little first, then yield
		if spins < 10 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake signals the pump. The pump checks for work while holding mu, signalling under mu
// avoids a lost wake up.
func (m *Mailbox[T]) wake() {
	m.mu.Lock()
	m.cond.Signal()
	m.mu.Unlock()
}

// Recv returns the channel the single consumer reads from.
// The channel is closed after Close once every pushed value was delivered.
func (m *Mailbox[T]) Recv() <-chan T {
	return m.out
}

// Close rejects further pushes. Values already pushed are still delivered.
func (m *Mailbox[T]) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.wake()
}

// Done is closed when the pump goroutine exited (after Recv was closed)
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

// IsClosed returns true if the mailbox is closed
func (m *Mailbox[T]) IsClosed() bool {
	return m.closed.Load()
}

// Len returns an approximate count of undelivered values.
// This is O(n) and should only be used for debugging and tests.
func (m *Mailbox[T]) Len() int {
	n := 0
	for c := m.head.Load().next.Load(); c != nil; c = c.next.Load() {
		n++
	}
	return n
}

// pump moves values from the linked list to the out channel
func (m *Mailbox[T]) pump() {
	defer close(m.done)
	defer close(m.out)

	var zero T
	for {
		delivered := false

		for {
			head := m.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			delivered = true

			// next becomes the new sentinel, drop its value reference once handed out
			m.head.Store(next)
			m.out <- next.value
			next.value = zero
		}

		if delivered {
			continue
		}

		m.mu.Lock()
		if m.head.Load().next.Load() == nil {
			if m.closed.Load() && m.pushing.Load() == 0 {
				// an in-flight push appends before it leaves pushing, so look at the list again
				if m.head.Load().next.Load() == nil {
					m.mu.Unlock()
					return
				}
			} else {
				m.cond.Wait()
			}
		}
		m.mu.Unlock()
	}
}
