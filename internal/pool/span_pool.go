// Package pool implements the two object-pool variants from spec.md §4.2:
// a pre-warmed span buffer pool (lock-free stack) and a compact fixed-size
// slot pool addressed by 32-bit index. Grounded on the teacher's
// friggdb/pool worker-pool package for the atomic-counter and stats idiom,
// adapted here from a job queue to a free-list of reusable buffers since
// that is what spec.md §4.2 actually describes.
package pool

import (
	"sync/atomic"
	"unsafe"

	uatomic "go.uber.org/atomic"

	"github.com/urpo-dev/urpo/internal/model"
)

// Stats is the snapshot exposed by SpanPool.Stats().
type Stats struct {
	Hits      uint64
	Misses    uint64
	Available int
	Capacity  int
}

// node is one entry of the lock-free free-list (Treiber stack).
type node struct {
	next *node
	span model.Span
}

// SpanPool is a bounded, pre-warmed collection of reusable *model.Span
// buffers. TryGet is wait-free on the common path; under contention it
// degrades to a short CAS-retry spin, never blocking.
type SpanPool struct {
	head     unsafe.Pointer // *node
	capacity int

	hits   uatomic.Uint64
	misses uatomic.Uint64
	inUse  uatomic.Int64
}

// NewSpanPool allocates and fully populates a pool of capacity buffers.
func NewSpanPool(capacity int) *SpanPool {
	p := &SpanPool{capacity: capacity}
	for i := 0; i < capacity; i++ {
		n := &node{}
		p.push(n)
	}
	return p
}

func (p *SpanPool) push(n *node) {
	for {
		old := atomic.LoadPointer(&p.head)
		n.next = (*node)(old)
		if atomic.CompareAndSwapPointer(&p.head, old, unsafe.Pointer(n)) {
			return
		}
	}
}

func (p *SpanPool) pop() *node {
	for {
		old := atomic.LoadPointer(&p.head)
		if old == nil {
			return nil
		}
		n := (*node)(old)
		if atomic.CompareAndSwapPointer(&p.head, old, unsafe.Pointer(n.next)) {
			n.next = nil
			return n
		}
	}
}

// Handle is a borrowed span buffer. Release must be called exactly once on
// every exit path (the receiver defers it immediately after TryGet
// succeeds) or the buffer leaks from the pool, though never past the
// process: Go's GC still reclaims the underlying memory.
type Handle struct {
	pool *SpanPool
	n    *node
}

// Span exposes the zeroed, reusable buffer backing this handle.
func (h *Handle) Span() *model.Span {
	return &h.n.span
}

// Release returns the buffer to the pool for reuse. Safe to call at most
// once; a nil handle or double-release is a no-op.
func (h *Handle) Release() {
	if h == nil || h.n == nil {
		return
	}
	n := h.n
	h.n = nil
	n.span = model.Span{}
	h.pool.push(n)
	h.pool.inUse.Dec()
}

// TryGet returns a handle to a pooled buffer, or (nil, false) if the pool is
// exhausted; callers must fall back to a heap allocation or drop the span.
func (p *SpanPool) TryGet() (*Handle, bool) {
	n := p.pop()
	if n == nil {
		p.misses.Inc()
		return nil, false
	}
	p.hits.Inc()
	p.inUse.Inc()
	n.span = model.Span{}
	return &Handle{pool: p, n: n}, true
}

// Stats reports current pool utilization.
func (p *SpanPool) Stats() Stats {
	return Stats{
		Hits:      p.hits.Load(),
		Misses:    p.misses.Load(),
		Available: p.capacity - int(p.inUse.Load()),
		Capacity:  p.capacity,
	}
}
