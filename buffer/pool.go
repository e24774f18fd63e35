package buffer

import (
	"context"
	"fmt"
)

// Pool hands out Composite buffers backed by anonymous mmap regions sized
// to capacity, and reclaims them after a flush completes. It bounds the
// number of outstanding buffers to poolSize, the same producer/consumer
// discipline the teacher applies per-shard with its double buffer, here
// generalized to N buffers shared by one flusher.
//
// Each slot's mmap region is the Composite's actual backing store —
// Append copies into it and Segments reads back out of it, the same
// reserve-then-copy pattern as the teacher's Buffer.Write over its own
// aligned backing array — so the pool is an off-heap allocator with a
// real, enforced capacity ceiling per borrow, not just a slot-count
// reservation.
type Pool struct {
	capacity int
	free     chan *slot
	all      []*slot
}

type slot struct {
	backing []byte
	buf     *Composite
}

// NewPool allocates size buffers of the given capacity via anonymous mmap.
func NewPool(capacity, size int) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer: capacity must be > 0, got %d", capacity)
	}
	if size <= 0 {
		return nil, fmt.Errorf("buffer: pool size must be > 0, got %d", size)
	}

	p := &Pool{
		capacity: capacity,
		free:     make(chan *slot, size),
		all:      make([]*slot, 0, size),
	}

	for i := 0; i < size; i++ {
		// allocMmap rounds up to the page size; the composite must only
		// see the caller-requested capacity, not the alignment padding,
		// so the enforced ceiling matches what the caller asked for.
		backing, err := allocMmap(capacity)
		if err != nil {
			p.closeAll()
			return nil, fmt.Errorf("buffer: failed to allocate slot %d: %w", i, err)
		}
		s := &slot{backing: backing, buf: newComposite(backing[:capacity])}
		p.all = append(p.all, s)
		p.free <- s
	}

	return p, nil
}

// Capacity returns the configured per-buffer capacity.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Size returns the total number of pooled slots.
func (p *Pool) Size() int {
	return len(p.all)
}

// Available returns the number of slots currently in the pool (not on
// loan). Used by tests to assert no buffer is leaked.
func (p *Pool) Available() int {
	return len(p.free)
}

// Borrow blocks up to the context's deadline for a free buffer, returning
// nil if none became available in time. The returned Composite is reset
// (zero length) and ready for use.
func (p *Pool) Borrow(ctx context.Context) *Composite {
	select {
	case s := <-p.free:
		s.buf.reset()
		s.buf.refs.Store(1) // arm for this loan cycle
		return s.buf
	case <-ctx.Done():
		return nil
	}
}

// Return releases buf back to the pool. Idempotent: returning the same
// Composite twice is a no-op on the second call. Safe to call from any
// goroutine.
func (p *Pool) Return(buf *Composite) {
	if buf == nil {
		return
	}
	if !buf.refs.CompareAndSwap(1, 0) {
		return
	}
	for _, s := range p.all {
		if s.buf == buf {
			select {
			case p.free <- s:
			default:
				// Pool is already full; should not happen if Return is
				// called at most once per Borrow, but never block here.
			}
			return
		}
	}
}

// Close releases every slot's mmap region. The pool must not be used
// afterward.
func (p *Pool) Close() {
	p.closeAll()
}

func (p *Pool) closeAll() {
	for _, s := range p.all {
		if len(s.backing) > 0 {
			releaseBacking(s.backing)
		}
	}
}

const pageSize = 4096

func alignSize(size int) int {
	return ((size + pageSize - 1) / pageSize) * pageSize
}
