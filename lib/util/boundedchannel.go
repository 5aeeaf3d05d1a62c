package util

import (
	"sync"
)

// Unbounded can be passed as capacity to NewBoundedChannel to create a queue
// that never rejects an item because of its size.
const Unbounded = -1

// BoundedChannel is a FIFO queue with an optional capacity limit that is safe
// for concurrent use by any number of producers and consumers.
//
// In blocking mode Put waits while the queue is full and Take/TakeAll wait
// while it is empty. Stop wakes every waiter for good, after that the queue
// behaves like a non-blocking one. In non-blocking mode every operation
// returns immediately.
//
// A capacity of 0 rejects every item, a negative capacity (see Unbounded)
// never rejects.
type BoundedChannel[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	capacity int
	blocking bool
	stopped  bool
}

// NewBoundedChannel creates a new queue with the given capacity and mode
func NewBoundedChannel[T any](capacity int, blocking bool) *BoundedChannel[T] {
	q := &BoundedChannel[T]{
		capacity: capacity,
		blocking: blocking,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// --------------------------------------------------------------------------
// Producer side
// --------------------------------------------------------------------------

// Put appends an item to the queue. In blocking mode it waits until there is
// room or the queue is stopped. It returns false if the item was not added.
func (q *BoundedChannel[T]) Put(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.full() {
		if !q.blocking || q.stopped || q.capacity == 0 {
			return false
		}
		q.notFull.Wait()
	}

	q.push(item)
	return true
}

// Offer appends an item only if there is room right now, regardless of the
// queue mode. Reactors use it to hand work to blocking queues.
func (q *BoundedChannel[T]) Offer(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.full() {
		return false
	}

	q.push(item)
	return true
}

// --------------------------------------------------------------------------
// Consumer side
// --------------------------------------------------------------------------

// Take removes the oldest item. In blocking mode it waits until an item is
// available or the queue is stopped. The bool is false if nothing was taken.
func (q *BoundedChannel[T]) Take() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if !q.blocking || q.stopped {
			var zero T
			return zero, false
		}
		q.notEmpty.Wait()
	}

	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, true
}

// TakeAll removes all queued items in FIFO order within one critical section.
// In blocking mode it waits until at least one item is available or the queue
// is stopped. An empty result means nothing was queued.
func (q *BoundedChannel[T]) TakeAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if !q.blocking || q.stopped {
			return nil
		}
		q.notEmpty.Wait()
	}

	items := q.items
	q.items = nil
	q.notFull.Broadcast()
	return items
}

// --------------------------------------------------------------------------
// Control
// --------------------------------------------------------------------------

// Stop releases all waiting producers and consumers. Queued items stay in the
// queue and can still be taken.
func (q *BoundedChannel[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Stopped reports whether Stop was called
func (q *BoundedChannel[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// SetCapacity changes the capacity. Items already queued are kept even if
// the new capacity is smaller.
func (q *BoundedChannel[T]) SetCapacity(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.capacity = capacity
	q.notFull.Broadcast()
}

// Size returns the number of queued items
func (q *BoundedChannel[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// --------------------------------------------------------------------------
// Helper Methods (caller holds q.mu)
// --------------------------------------------------------------------------

func (q *BoundedChannel[T]) full() bool {
	return q.capacity >= 0 && len(q.items) >= q.capacity
}

func (q *BoundedChannel[T]) push(item T) {
	q.items = append(q.items, item)
	q.notEmpty.Signal()
}
