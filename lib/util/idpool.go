package util

// IdPool hands out unique ids in the range [0, max] (max inclusive) and takes
// them back for reuse. Recycled ids are always preferred over fresh ones and
// the lowest recycled id is returned first.
//
// Not thread-safe. Each pool is owned by exactly one goroutine or guarded by
// its owner's lock.
type IdPool[T Unsigned] struct {
	max       T
	next      T    // next clean id
	exhausted bool // all clean ids were handed out
	recycled  *idHeap[T]
	inUse     int
}

// NewIdPool creates a pool for ids 0..max
func NewIdPool[T Unsigned](max T) *IdPool[T] {
	return &IdPool[T]{
		max:      max,
		recycled: newIdHeap[T](),
	}
}

// Generate returns an id that is not outstanding. It returns false when
// every id of the range is in use.
func (p *IdPool[T]) Generate() (T, bool) {
	if id, ok := p.recycled.popMin(); ok {
		p.inUse++
		return id, true
	}

	if p.exhausted {
		var zero T
		return zero, false
	}

	id := p.next
	if id == p.max {
		p.exhausted = true
	} else {
		p.next++
	}
	p.inUse++
	return id, true
}

// Recycle makes an id available again. Ids that were never handed out or
// that are already recycled are ignored.
func (p *IdPool[T]) Recycle(id T) {
	if !p.issued(id) || p.recycled.has(id) {
		return
	}
	p.recycled.add(id)
	p.inUse--
}

// InUse returns the number of outstanding ids
func (p *IdPool[T]) InUse() int {
	return p.inUse
}

// issued reports whether id was handed out by the clean counter at some point
func (p *IdPool[T]) issued(id T) bool {
	if id > p.max {
		return false
	}
	if p.exhausted {
		return true
	}
	return id < p.next
}
