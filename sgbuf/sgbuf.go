// Package sgbuf provides pooled scatter-gather buffers. A buffer is a
// sequence of fixed-size segments drawn from a pool. Ownership is
// explicit: whoever holds the buffer must release it exactly once,
// which returns its segments to the pool for reuse.
package sgbuf

import (
	"errors"
	"net"
	"sync/atomic"
)

// DefaultSegmentSize is the segment size used by NewPool when the
// caller passes a non-positive size.
const DefaultSegmentSize = 8192

// maxFree bounds how many spare segments a pool keeps around for
// reuse. Segments released beyond this bound are left to the garbage
// collector.
const maxFree = 1024

// ErrReleased is returned by Release when the buffer was already
// released.
var ErrReleased = errors.New("buffer was already released")

// ErrBadSize is returned by Alloc when the requested size is not
// positive.
var ErrBadSize = errors.New("allocation size must be positive")

// Pool hands out buffers and recycles their segments.
type Pool struct {
	segSize     int
	free        chan []byte
	outstanding int64
}

// NewPool returns a pool whose buffers are split into segments of
// segSize bytes. A non-positive size selects DefaultSegmentSize.
func NewPool(segSize int) *Pool {
	if segSize <= 0 {
		segSize = DefaultSegmentSize
	}
	return &Pool{
		segSize: segSize,
		free:    make(chan []byte, maxFree),
	}
}

// SegmentSize returns the size of the segments this pool hands out.
func (p *Pool) SegmentSize() int {
	return p.segSize
}

// Outstanding returns the number of buffers allocated from this pool
// and not yet released.
func (p *Pool) Outstanding() int64 {
	return atomic.LoadInt64(&p.outstanding)
}

// Alloc returns a buffer of exactly size bytes, split into as many
// segments as needed. The last segment may be shorter than the pool's
// segment size.
func (p *Pool) Alloc(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, ErrBadSize
	}
	segs := make([][]byte, 0, (size+p.segSize-1)/p.segSize)
	for remaining := size; remaining > 0; remaining -= p.segSize {
		seg := p.getSegment()
		if remaining < len(seg) {
			seg = seg[:remaining]
		}
		segs = append(segs, seg)
	}
	atomic.AddInt64(&p.outstanding, 1)
	return &Buffer{pool: p, segs: segs, size: size}, nil
}

func (p *Pool) getSegment() []byte {
	select {
	case seg := <-p.free:
		return seg[:cap(seg)]
	default:
		return make([]byte, p.segSize)
	}
}

func (p *Pool) putSegment(seg []byte) {
	select {
	case p.free <- seg:
	default:
	}
}

// Buffer is a scatter-gather buffer: a fixed number of payload bytes
// spread over one or more pool segments.
type Buffer struct {
	pool     *Pool
	segs     [][]byte
	size     int
	released int32
}

// Len returns the number of payload bytes in the buffer.
func (b *Buffer) Len() int {
	return b.size
}

// Segments returns the buffer's segments. The returned slices alias
// pool memory and are valid only until the buffer is released.
func (b *Buffer) Segments() [][]byte {
	return b.segs
}

// Buffers returns the segments as a net.Buffers so callers can flush
// the whole buffer with a single vectored write. net.Buffers consumes
// the slice it is invoked on, so this returns a fresh copy of the
// segment headers each time.
func (b *Buffer) Buffers() net.Buffers {
	segs := make(net.Buffers, len(b.segs))
	copy(segs, b.segs)
	return segs
}

// Fill sets every payload byte to v.
func (b *Buffer) Fill(v byte) {
	for _, seg := range b.segs {
		for i := range seg {
			seg[i] = v
		}
	}
}

// Copy returns the payload as a single contiguous slice that does not
// alias pool memory.
func (b *Buffer) Copy() []byte {
	out := make([]byte, 0, b.size)
	for _, seg := range b.segs {
		out = append(out, seg...)
	}
	return out
}

// Truncate shrinks the buffer to its first n bytes and returns any
// fully dropped segments to the pool. Values of n beyond the current
// length leave the buffer unchanged.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n >= b.size {
		return
	}
	kept := b.segs[:0]
	remaining := n
	for _, seg := range b.segs {
		if remaining == 0 {
			b.pool.putSegment(seg)
			continue
		}
		if remaining < len(seg) {
			seg = seg[:remaining]
		}
		kept = append(kept, seg)
		remaining -= len(seg)
	}
	b.segs = kept
	b.size = n
}

// Release returns the buffer's segments to the pool. The buffer and
// every slice obtained from it must not be touched afterwards. A
// second Release returns ErrReleased.
func (b *Buffer) Release() error {
	if !atomic.CompareAndSwapInt32(&b.released, 0, 1) {
		return ErrReleased
	}
	for _, seg := range b.segs {
		b.pool.putSegment(seg)
	}
	b.segs = nil
	atomic.AddInt64(&b.pool.outstanding, -1)
	return nil
}
