package util

import (
	"container/heap"
)

// Unsigned is the set of integer types an IdPool can hand out
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// idHeap is a min-heap of recycled ids combined with a membership map.
// The map gives O(1) checks whether an id is already waiting for reuse,
// the heap gives the lowest recycled id in O(log n).
//
// Not thread-safe, the owning IdPool serializes access.
type idHeap[T Unsigned] struct {
	items    []T
	contains map[T]struct{}
}

func newIdHeap[T Unsigned]() *idHeap[T] {
	return &idHeap[T]{
		items:    make([]T, 0),
		contains: make(map[T]struct{}),
	}
}

// Len returns the number of ids in the heap (part of heap.Interface)
func (h *idHeap[T]) Len() int { return len(h.items) }

// Less orders ids ascending (part of heap.Interface)
func (h *idHeap[T]) Less(i, j int) bool { return h.items[i] < h.items[j] }

// Swap exchanges ids at positions i and j (part of heap.Interface)
func (h *idHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

// Push adds an id (part of heap.Interface)
func (h *idHeap[T]) Push(x any) {
	id := x.(T)
	h.items = append(h.items, id)
	h.contains[id] = struct{}{}
}

// Pop removes the last id (part of heap.Interface)
func (h *idHeap[T]) Pop() any {
	n := len(h.items)
	id := h.items[n-1]
	h.items = h.items[:n-1]
	delete(h.contains, id)
	return id
}

// add pushes an id unless it is already present. It returns false for duplicates.
func (h *idHeap[T]) add(id T) bool {
	if _, ok := h.contains[id]; ok {
		return false
	}
	heap.Push(h, id)
	return true
}

// popMin removes and returns the lowest id
func (h *idHeap[T]) popMin() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(h).(T), true
}

// has reports whether an id is waiting for reuse
func (h *idHeap[T]) has(id T) bool {
	_, ok := h.contains[id]
	return ok
}
