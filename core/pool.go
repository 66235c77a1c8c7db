package core

import "sync"

// BytesPool is a GC-friendly pool of reusable byte slices, used by
// sortmerge to avoid reallocating one "best" duplicate-compaction buffer
// per run when a large open file is chunked into many such runs.
type BytesPool struct {
	pool sync.Pool
	size int
}

// NewBytesPool returns a pool that hands out slices of exactly size bytes.
func NewBytesPool(size int) *BytesPool {
	p := &BytesPool{size: size}
	p.pool.New = func() any {
		return make([]byte, size)
	}
	return p
}

// Get returns a zero-length-capacity-size slice ready for append, or a
// reused buffer from the pool.
func (p *BytesPool) Get() []byte {
	buf := p.pool.Get().([]byte)
	return buf[:0]
}

// Put returns buf to the pool. Slices not originally sized by this pool are
// still accepted; Get's capacity simply won't match until replaced.
func (p *BytesPool) Put(buf []byte) {
	p.pool.Put(buf[:0])
}
