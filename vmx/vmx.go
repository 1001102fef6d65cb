// Package vmx adapts the optional libvmx codec behind a uniform interface
// and provides the built-in NV12 to RGBA converter used when the library
// is absent. The library is probed once with dlopen at first use; nothing
// links against it at build time.
package vmx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ebitengine/purego"
)

// Constants passed to VMX_Create, from the libvmx ABI.
const (
	profileOMTSQ    = 166
	colorSpaceBT709 = 709
)

// vmxSize mirrors the C VMX_SIZE struct passed to VMX_Create by value.
type vmxSize struct {
	Width  int32
	Height int32
}

var (
	loadOnce sync.Once
	loaded   bool

	vmxCreate     func(size vmxSize, profile int32, colorSpace int32) uintptr
	vmxDestroy    func(handle uintptr)
	vmxEncodeNV12 func(handle uintptr, srcY []byte, strideY int32, srcUV []byte, strideUV int32, interlaced int32) int32
	vmxSaveTo     func(handle uintptr, dst []byte, maxLen int32) int32
	vmxLoadFrom   func(handle uintptr, data []byte, dataLen int32) int32
	vmxDecodeBGRA func(handle uintptr, dst []byte, stride int32) int32
	vmxGetThreads func(handle uintptr) int32
	vmxSetThreads func(handle uintptr, numThreads int32)

	canDecode  bool
	hasThreads bool
)

// libNames are the candidate shared object names, probed in order.
var libNames = []string{"libvmx.so", "libvmx.dylib"}

func load() {
	var lib uintptr
	var err error
	for _, name := range libNames {
		lib, err = purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			break
		}
	}
	if lib == 0 {
		slog.Debug("libvmx not available", "error", err)
		return
	}

	defer func() {
		// A missing mandatory symbol panics inside RegisterLibFunc;
		// treat any such library as absent rather than crashing.
		if r := recover(); r != nil {
			slog.Warn("libvmx rejected", "reason", r)
			loaded = false
		}
	}()

	purego.RegisterLibFunc(&vmxCreate, lib, "VMX_Create")
	purego.RegisterLibFunc(&vmxDestroy, lib, "VMX_Destroy")
	purego.RegisterLibFunc(&vmxEncodeNV12, lib, "VMX_EncodeNV12")
	purego.RegisterLibFunc(&vmxSaveTo, lib, "VMX_SaveTo")
	loaded = true

	if _, err := purego.Dlsym(lib, "VMX_LoadFrom"); err == nil {
		purego.RegisterLibFunc(&vmxLoadFrom, lib, "VMX_LoadFrom")
		purego.RegisterLibFunc(&vmxDecodeBGRA, lib, "VMX_DecodeBGRA")
		canDecode = true
	}
	if _, err := purego.Dlsym(lib, "VMX_SetThreads"); err == nil {
		purego.RegisterLibFunc(&vmxGetThreads, lib, "VMX_GetThreads")
		purego.RegisterLibFunc(&vmxSetThreads, lib, "VMX_SetThreads")
		hasThreads = true
	}

	slog.Info("libvmx loaded", "decode", canDecode, "threads", hasThreads)
}

// Available reports whether the compressed codec backend is loaded.
// The first call performs the dlopen probe.
func Available() bool {
	loadOnce.Do(load)
	return loaded
}

// CanDecode reports whether the loaded library exposes the decode symbols.
func CanDecode() bool {
	loadOnce.Do(load)
	return loaded && canDecode
}

var errUnavailable = errors.New("vmx: codec library not loaded")

// create builds a codec instance for a fixed size and applies the thread
// count when the library supports it.
func create(width, height, threads int) (uintptr, error) {
	if !Available() {
		return 0, errUnavailable
	}
	h := vmxCreate(vmxSize{Width: int32(width), Height: int32(height)}, profileOMTSQ, colorSpaceBT709)
	if h == 0 {
		return 0, fmt.Errorf("vmx: create %dx%d failed", width, height)
	}
	if hasThreads && threads > 0 {
		vmxSetThreads(h, int32(threads))
		slog.Debug("vmx instance", "size", fmt.Sprintf("%dx%d", width, height),
			"threads", vmxGetThreads(h))
	}
	return h, nil
}

// Encoder is a libvmx encoder instance fixed to one frame size.
type Encoder struct {
	handle uintptr
	width  int
	height int
}

// NewEncoder creates an encoder for width x height frames.
func NewEncoder(width, height, threads int) (*Encoder, error) {
	h, err := create(width, height, threads)
	if err != nil {
		return nil, err
	}
	return &Encoder{handle: h, width: width, height: height}, nil
}

// OutputBufferSize returns the required capacity for Encode's out buffer.
func (e *Encoder) OutputBufferSize() int {
	return e.width * e.height * 2
}

// Encode compresses one NV12 frame into out and returns the byte count.
// The caller owns out; nothing is allocated here.
func (e *Encoder) Encode(y []byte, yStride int, uv []byte, uvStride int, out []byte) (int, error) {
	if e.handle == 0 {
		return 0, errUnavailable
	}
	if rc := vmxEncodeNV12(e.handle, y, int32(yStride), uv, int32(uvStride), 0); rc != 0 {
		return 0, fmt.Errorf("vmx: encode failed (%d)", rc)
	}
	n := vmxSaveTo(e.handle, out, int32(len(out)))
	if n <= 0 || int(n) > len(out) {
		return 0, fmt.Errorf("vmx: save returned %d for %d-byte buffer", n, len(out))
	}
	return int(n), nil
}

// Close destroys the encoder instance.
func (e *Encoder) Close() {
	if e.handle != 0 {
		vmxDestroy(e.handle)
		e.handle = 0
	}
}

// Decoder is a libvmx decoder instance fixed to one frame size.
type Decoder struct {
	handle uintptr
	width  int
	height int
}

// NewDecoder creates a decoder for width x height frames.
func NewDecoder(width, height, threads int) (*Decoder, error) {
	if !CanDecode() {
		return nil, errUnavailable
	}
	h, err := create(width, height, threads)
	if err != nil {
		return nil, err
	}
	return &Decoder{handle: h, width: width, height: height}, nil
}

// Decode loads one compressed frame and decodes it into rgba, which must
// be width*height*4 bytes with row stride width*4. libvmx natively emits
// BGRA, so the R and B channels are swapped in place before returning.
func (d *Decoder) Decode(input, rgba []byte) error {
	if d.handle == 0 {
		return errUnavailable
	}
	if len(rgba) < d.width*d.height*4 {
		return fmt.Errorf("vmx: rgba buffer %d bytes, need %d", len(rgba), d.width*d.height*4)
	}
	if rc := vmxLoadFrom(d.handle, input, int32(len(input))); rc != 0 {
		return fmt.Errorf("vmx: load failed (%d)", rc)
	}
	if rc := vmxDecodeBGRA(d.handle, rgba, int32(d.width*4)); rc != 0 {
		return fmt.Errorf("vmx: decode failed (%d)", rc)
	}
	SwapBGRA(rgba)
	return nil
}

// Close destroys the decoder instance.
func (d *Decoder) Close() {
	if d.handle != 0 {
		vmxDestroy(d.handle)
		d.handle = 0
	}
}
