// Package buffer implements the off-heap composite buffer that backs a
// partition writer's in-flight bytes, and the pool that hands those
// buffers out to writers and reclaims them after a flush.
package buffer

import (
	"sync/atomic"
)

// Composite is a reference-counted, fixed-capacity write-ahead buffer
// backed by a single mmap'd region. Append copies each write into that
// region in place — the same reserve-offset-then-copy discipline the
// teacher's Buffer.Write uses over its 512-byte-aligned backing array —
// so the region is genuinely read back out at drain time, not just held
// for its capacity accounting. Append reports false once a write would
// not fit in the space remaining; the caller (the writer) must flush and
// retry against a fresh buffer.
type Composite struct {
	backing []byte
	written int
	refs    atomic.Int32
}

// newComposite returns an empty composite buffer over backing, with one
// reference held by its owning pool slot.
func newComposite(backing []byte) *Composite {
	c := &Composite{backing: backing}
	c.refs.Store(1)
	return c
}

// Append copies p into the unused tail of the backing region. Returns
// false without copying anything if p would not fit in the space
// remaining — the buffer is a hard capacity ceiling, not an elastic one.
func (c *Composite) Append(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	if c.written+len(p) > len(c.backing) {
		return false
	}
	copy(c.backing[c.written:c.written+len(p)], p)
	c.written += len(p)
	return true
}

// Len returns the number of bytes currently held.
func (c *Composite) Len() int64 {
	return int64(c.written)
}

// Empty reports whether the composite holds no bytes.
func (c *Composite) Empty() bool {
	return c.written == 0
}

// Cap returns the backing region's total capacity, in bytes.
func (c *Composite) Cap() int {
	return len(c.backing)
}

// Segments returns the vectored view of held bytes, suitable for a single
// sequential/vectored append to a sink. A Composite holds one contiguous
// region, so this is always at most one segment.
func (c *Composite) Segments() [][]byte {
	if c.written == 0 {
		return nil
	}
	return [][]byte{c.backing[:c.written]}
}

// reset clears the composite for reuse by the pool. It does not release
// the backing capacity array — that stays mmap'd and owned by the pool
// slot for the lifetime of the pool.
func (c *Composite) reset() {
	c.written = 0
}
