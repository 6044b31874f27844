package pool

import (
	"fmt"
	"sync"

	uatomic "go.uber.org/atomic"

	"github.com/urpo-dev/urpo/internal/model"
)

// SlotIndex is a 32-bit handle into a SlotPool's backing array.
type SlotIndex uint32

// ErrSlotsExhausted is returned by Allocate when every slot is checked out.
var ErrSlotsExhausted = fmt.Errorf("pool: no free slots")

// slot tracks the generation counter used for use-after-free
// detection: every SlotHandle embeds the generation observed at Allocate
// time, and Write/Read compare it against the slot's current generation,
// which is bumped on Release. A stale handle used after its slot was
// recycled is rejected rather than silently corrupting another span.
type slot struct {
	span       model.Span
	generation uint32
	mu         sync.Mutex
}

// SlotPool is an array of fixed-size span slots addressed by 32-bit index,
// as described in spec.md §4.2. Unlike SpanPool it exposes typed handles
// with write/read accessors and guards reuse behind a generation check.
type SlotPool struct {
	slots []slot
	free  chan SlotIndex

	debug bool // when true, Write/Read reject handles whose generation is stale
}

// NewSlotPool allocates capacity slots and fills the free list.
func NewSlotPool(capacity int, debug bool) *SlotPool {
	p := &SlotPool{
		slots: make([]slot, capacity),
		free:  make(chan SlotIndex, capacity),
		debug: debug,
	}
	for i := 0; i < capacity; i++ {
		p.free <- SlotIndex(i)
	}
	return p
}

// SlotHandle is a checked-out slot. Its generation is captured at Allocate
// time so Write/Read can detect use after the slot has been recycled.
type SlotHandle struct {
	pool       *SlotPool
	index      SlotIndex
	generation uint32
	released   uatomic.Bool
}

// Allocate returns a handle to a free slot, or ErrSlotsExhausted.
func (p *SlotPool) Allocate() (*SlotHandle, error) {
	select {
	case idx := <-p.free:
		s := &p.slots[idx]
		s.mu.Lock()
		gen := s.generation
		s.mu.Unlock()
		return &SlotHandle{pool: p, index: idx, generation: gen}, nil
	default:
		return nil, ErrSlotsExhausted
	}
}

// Write stores span into the slot. Returns an error if the handle has
// already been released or the slot's generation has moved on (debug-mode
// use-after-free detection).
func (h *SlotHandle) Write(span model.Span) error {
	if h.released.Load() {
		return fmt.Errorf("pool: write through released handle (slot %d)", h.index)
	}
	s := &h.pool.slots[h.index]
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.pool.debug && s.generation != h.generation {
		return fmt.Errorf("pool: use-after-free on slot %d (handle gen %d, slot gen %d)", h.index, h.generation, s.generation)
	}
	s.span = span
	return nil
}

// Read returns a copy of the slot's current span.
func (h *SlotHandle) Read() (model.Span, error) {
	if h.released.Load() {
		return model.Span{}, fmt.Errorf("pool: read through released handle (slot %d)", h.index)
	}
	s := &h.pool.slots[h.index]
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.pool.debug && s.generation != h.generation {
		return model.Span{}, fmt.Errorf("pool: use-after-free on slot %d (handle gen %d, slot gen %d)", h.index, h.generation, s.generation)
	}
	return s.span, nil
}

// Index exposes the 32-bit slot address backing this handle, usable as a
// reference to the slot without holding a live handle.
func (h *SlotHandle) Index() SlotIndex {
	return h.index
}

// Release returns the slot to the pool. Safe to call at most once; a
// handle released twice returns an error instead of double-freeing.
func (h *SlotHandle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return fmt.Errorf("pool: double release of slot %d", h.index)
	}
	s := &h.pool.slots[h.index]
	s.mu.Lock()
	s.span = model.Span{}
	s.generation++
	s.mu.Unlock()
	h.pool.free <- h.index
	return nil
}
