package send

import (
	"bytes"
	"testing"
	"time"
)

// uniformInput builds a tight NV12-style input with constant planes.
func uniformInput(width, height int, yVal, uVal, vVal byte) VideoInput {
	uvRows := height / 2
	u := make([]byte, width/2*uvRows)
	v := make([]byte, width/2*uvRows)
	for i := range u {
		u[i] = uVal
		v[i] = vVal
	}
	return VideoInput{
		Y: bytes.Repeat([]byte{yVal}, width*height), YStride: width,
		U: u, UStride: width / 2, UPixelStride: 1,
		V: v, VStride: width / 2, VPixelStride: 1,
		Width: width, Height: height,
	}
}

func TestFrameSlotNewestWins(t *testing.T) {
	t.Parallel()

	slot := newFrameSlot()

	dropped := 0
	for i, yVal := range []byte{10, 20, 30} {
		if slot.submit(uniformInput(4, 4, yVal, 128, 128)) {
			dropped++
		}
		if i == 0 && dropped != 0 {
			t.Fatal("first submit reported a drop")
		}
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}

	var y, uv []byte
	meta, ok := slot.consume(&y, &uv)
	if !ok {
		t.Fatal("consume failed")
	}
	if meta.width != 4 || meta.height != 4 {
		t.Errorf("meta = %dx%d, want 4x4", meta.width, meta.height)
	}
	if y[0] != 30 {
		t.Errorf("consumed Y = %d, want the last frame (30)", y[0])
	}

	// Nothing further is pending: the consumer must block until close.
	done := make(chan struct{})
	go func() {
		if _, ok := slot.consume(&y, &uv); ok {
			t.Error("consume returned a frame after the last was taken")
		}
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("consume returned without a new frame")
	default:
	}
	slot.close()
	<-done
}

func TestFrameSlotSwapsBuffers(t *testing.T) {
	t.Parallel()

	slot := newFrameSlot()
	var y, uv []byte

	slot.submit(uniformInput(4, 4, 1, 128, 128))
	if _, ok := slot.consume(&y, &uv); !ok {
		t.Fatal("consume failed")
	}
	firstY := &y[0]

	slot.submit(uniformInput(4, 4, 2, 128, 128))
	if _, ok := slot.consume(&y, &uv); !ok {
		t.Fatal("consume failed")
	}
	secondY := &y[0]

	if firstY == secondY {
		t.Error("consumer received the same buffer twice in a row; producer and consumer are not swapping")
	}

	// Third handoff returns the first buffer: two-buffer steady state.
	slot.submit(uniformInput(4, 4, 3, 128, 128))
	if _, ok := slot.consume(&y, &uv); !ok {
		t.Fatal("consume failed")
	}
	if &y[0] != firstY {
		t.Error("steady state uses more than two Y buffers")
	}
}

func TestPackYCompactsStride(t *testing.T) {
	t.Parallel()

	width, height, stride := 4, 2, 8
	src := make([]byte, stride*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			src[row*stride+col] = byte(row*width + col + 1)
		}
	}

	dst := make([]byte, width*height)
	packY(dst, VideoInput{Y: src, YStride: stride, Width: width, Height: height})

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(dst, want) {
		t.Errorf("packY = %v, want %v", dst, want)
	}
}

func TestPackUVInterleavedFastPath(t *testing.T) {
	t.Parallel()

	// Camera-style interleaved planes: one backing array UVUV…, the U view
	// starting at 0 and ending one byte short, the V view starting at 1.
	width, height := 4, 2
	backing := []byte{0x10, 0x90, 0x20, 0xA0}
	u := backing[:len(backing)-1]
	v := backing[1:]

	dst := make([]byte, width*(height/2))
	packUV(dst, VideoInput{
		U: u, UStride: width, UPixelStride: 2,
		V: v, VStride: width, VPixelStride: 2,
		Width: width, Height: height,
	})

	if !bytes.Equal(dst, backing) {
		t.Errorf("packUV = %#v, want %#v", dst, backing)
	}
}

func TestPackUVPlanarGather(t *testing.T) {
	t.Parallel()

	width, height := 4, 2
	u := []byte{0x11, 0x22}
	v := []byte{0x33, 0x44}

	dst := make([]byte, width*(height/2))
	packUV(dst, VideoInput{
		U: u, UStride: 2, UPixelStride: 1,
		V: v, VStride: 2, VPixelStride: 1,
		Width: width, Height: height,
	})

	want := []byte{0x11, 0x33, 0x22, 0x44}
	if !bytes.Equal(dst, want) {
		t.Errorf("packUV = %#v, want %#v", dst, want)
	}
}

func TestFrameSlotSubmitAfterClose(t *testing.T) {
	t.Parallel()

	slot := newFrameSlot()
	slot.close()
	if slot.submit(uniformInput(4, 4, 1, 128, 128)) {
		t.Error("submit after close reported a drop")
	}
	var y, uv []byte
	if _, ok := slot.consume(&y, &uv); ok {
		t.Error("consume succeeded on a closed slot")
	}
}
