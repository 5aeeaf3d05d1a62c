package base

import "sync"

// DefaultChunkSize is the read size used when a pool is created with size 0
const DefaultChunkSize = 64 * 1024 // 64 KB

// ChunkPool recycles read buffers of one fixed size to reduce GC pressure.
// One pool is shared by all connections of an IO worker.
type ChunkPool struct {
	size int
	pool sync.Pool
}

// NewChunkPool creates a pool of size byte buffers
func NewChunkPool(size int) *ChunkPool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	p := &ChunkPool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer of the pool's size
func (p *ChunkPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns a buffer obtained from Get. Buffers of a different capacity
// are ignored.
func (p *ChunkPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
