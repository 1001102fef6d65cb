// Package recv implements the OMT receiver: a single-socket client that
// subscribes to a source, decodes its frames, and hands pixel buffers and
// PCM audio to the embedder.
package recv

import "sync/atomic"

// poolDepth bounds the free list. Steady state holds three buffers: one
// with the decoder, one in the pending slot, one with the renderer.
const poolDepth = 3

// Bitmap is one RGBA pixel buffer. Pix holds width*height*4 bytes with a
// row stride of width*4.
type Bitmap struct {
	Pix    []byte
	Width  int
	Height int
}

// Pool decouples decode from display: a bounded free list of RGBA buffers
// plus a single-slot atomic pending cell. A buffer is owned by exactly one
// party at a time (decoder, pending slot, or renderer), so no buffer is
// ever written and read concurrently.
type Pool struct {
	free    chan *Bitmap
	pending atomic.Pointer[Bitmap]
}

// NewPool creates an empty pool; buffers are allocated on demand.
func NewPool() *Pool {
	return &Pool{free: make(chan *Bitmap, poolDepth)}
}

// Acquire returns a free buffer with the given dimensions. Free buffers
// with stale dimensions are discarded, so a resolution change drains the
// pool naturally.
func (p *Pool) Acquire(width, height int) *Bitmap {
	for {
		select {
		case b := <-p.free:
			if b.Width == width && b.Height == height {
				return b
			}
		default:
			return &Bitmap{
				Pix:    make([]byte, width*height*4),
				Width:  width,
				Height: height,
			}
		}
	}
}

// Publish stores b in the pending slot and returns the displaced previous
// entry, if any; the caller returns it to the pool.
func (p *Pool) Publish(b *Bitmap) *Bitmap {
	return p.pending.Swap(b)
}

// Take clears and returns the pending buffer, or nil if none is waiting.
func (p *Pool) Take() *Bitmap {
	return p.pending.Swap(nil)
}

// Release returns a buffer to the free list, dropping it if the list is
// full so memory stays bounded.
func (p *Pool) Release(b *Bitmap) {
	if b == nil {
		return
	}
	select {
	case p.free <- b:
	default:
	}
}
