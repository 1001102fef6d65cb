package send

import (
	"sync"

	"github.com/zsiec/omt/frame"
)

// VideoInput describes one camera frame as three planes with their strides.
// U and V may alias the same interleaved buffer (pixel stride 2) or be
// fully planar (pixel stride 1).
type VideoInput struct {
	Y       []byte
	YStride int

	U            []byte
	UStride      int
	UPixelStride int

	V            []byte
	VStride      int
	VPixelStride int

	Width  int
	Height int
}

// frameSlot is the single double-buffered handoff between the camera
// thread and the encoder. Ownership of the backing Y/UV buffers swaps
// between producer and consumer on every handoff, so the steady state
// holds exactly two buffer pairs and allocates nothing.
type frameSlot struct {
	mu   sync.Mutex
	cond *sync.Cond

	y, uv     []byte
	width     int
	height    int
	yStride   int
	timestamp int64
	ready     bool
	closed    bool
}

func newFrameSlot() *frameSlot {
	s := &frameSlot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// frameMeta is the consumer's view of a handed-off frame.
type frameMeta struct {
	width     int
	height    int
	yStride   int
	timestamp int64
}

// submit repacks the camera planes into the slot's contiguous NV12 buffers
// and marks the slot ready. If the encoder has not consumed the previous
// frame it is silently overwritten: newest wins, no backlog. Returns true
// when a still-ready frame was overwritten.
func (s *frameSlot) submit(in VideoInput) bool {
	ySize := in.Width * in.Height
	uvSize := in.Width * (in.Height / 2)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	dropped := s.ready

	if cap(s.y) < ySize {
		s.y = make([]byte, ySize)
	}
	s.y = s.y[:ySize]
	if cap(s.uv) < uvSize {
		s.uv = make([]byte, uvSize)
	}
	s.uv = s.uv[:uvSize]

	packY(s.y, in)
	packUV(s.uv, in)

	s.width = in.Width
	s.height = in.Height
	s.yStride = in.Width
	s.timestamp = frame.Ticks()
	s.ready = true
	s.cond.Signal()
	return dropped
}

// packY copies the Y plane row by row, compacting a strided source into
// tight width-byte rows.
func packY(dst []byte, in VideoInput) {
	if in.YStride == in.Width {
		copy(dst, in.Y)
		return
	}
	for row := 0; row < in.Height; row++ {
		copy(dst[row*in.Width:(row+1)*in.Width], in.Y[row*in.YStride:])
	}
}

// packUV builds the contiguous interleaved UV plane. When both source
// planes are already interleaved (pixel stride 2) the row is copied in one
// range, with only the final V byte gathered separately because the U view
// typically ends one byte short of it. Otherwise each sample is gathered
// with bounds checks.
func packUV(dst []byte, in VideoInput) {
	uvRows := in.Height / 2
	for row := 0; row < uvRows; row++ {
		out := dst[row*in.Width : (row+1)*in.Width]
		uOff := row * in.UStride
		vOff := row * in.VStride

		if in.UPixelStride == 2 && in.VPixelStride == 2 {
			n := len(in.U) - uOff
			if n > in.Width {
				n = in.Width
			}
			if n > 0 {
				copy(out[:n], in.U[uOff:uOff+n])
			}
			// The interleaved U view carries U,V,U,V,… but usually stops
			// before the last V sample, which lives in the V plane.
			lastV := vOff + in.Width - 2
			if n < in.Width && lastV >= 0 && lastV < len(in.V) {
				out[in.Width-1] = in.V[lastV]
			}
			continue
		}

		for i := 0; i < in.Width/2; i++ {
			ui := uOff + i*in.UPixelStride
			vi := vOff + i*in.VPixelStride
			if ui < len(in.U) {
				out[i*2] = in.U[ui]
			}
			if vi < len(in.V) {
				out[i*2+1] = in.V[vi]
			}
		}
	}
}

// consume blocks until a frame is ready, swaps the slot's buffers with the
// caller's pair, and clears readiness. Returns ok=false once the slot is
// closed. After return the caller owns *y/*uv exclusively and the producer
// writes its next frame into the caller's previous pair.
func (s *frameSlot) consume(y, uv *[]byte) (frameMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.ready && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return frameMeta{}, false
	}

	s.y, *y = *y, s.y
	s.uv, *uv = *uv, s.uv
	s.ready = false

	return frameMeta{
		width:     s.width,
		height:    s.height,
		yStride:   s.yStride,
		timestamp: s.timestamp,
	}, true
}

// close wakes any blocked consumer and rejects further submissions.
func (s *frameSlot) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
