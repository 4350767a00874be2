// Package heapbuf provides the heap-backed fallback buffer pool the
// transport engine reaches for when the ring buffer cannot satisfy an
// allocation. Grounded on the sync.Pool-based buffer pool in
// therealutkarshpriyadarshi-network/pkg/common/bufferpool.go, sized to a
// single fixed capacity (the transport's MTU) rather than that package's
// small/medium/large tiers, since every ring-buffer-fallback allocation
// here is for one datagram-sized buffer.
package heapbuf

import "sync"

// Pool hands out byte slices of a fixed capacity, reusing previously
// released ones to reduce GC pressure on the fallback path.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a Pool of buffers with the given capacity, pre-warmed with
// warm buffers so the first handful of fallback allocations don't pay an
// allocation cost.
func New(size, warm int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	spares := make([][]byte, 0, warm)
	for i := 0; i < warm; i++ {
		spares = append(spares, p.Get())
	}
	for _, b := range spares {
		p.Put(b)
	}
	return p
}

// Get returns a buffer at the pool's fixed capacity; callers slice it
// down to the actual datagram size they need.
func (p *Pool) Get() []byte {
	bufPtr := p.pool.Get().(*[]byte)
	return (*bufPtr)[:p.size]
}

// Put returns a buffer to the pool for reuse.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	full := buf[:p.size]
	p.pool.Put(&full)
}
