// Package frame implements the OMT wire format: the 16-byte base header,
// the per-type extended headers for video and audio, and the XML-shaped
// metadata fragments exchanged during subscription setup.
package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type identifies the kind of payload carried by a frame.
type Type uint8

const (
	TypeMetadata Type = 1
	TypeVideo    Type = 2
	TypeAudio    Type = 4
)

// String returns a short name for logging.
func (t Type) String() string {
	switch t {
	case TypeMetadata:
		return "metadata"
	case TypeVideo:
		return "video"
	case TypeAudio:
		return "audio"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Codec FourCCs carried in the extended headers, stored little-endian.
const (
	FourCCVMX1 uint32 = 0x31584D56 // "VMX1" compressed video
	FourCCNV12 uint32 = 0x3231564E // "NV12" raw 4:2:0 video
	FourCCFPA1 uint32 = 0x31415046 // "FPA1" 32-bit float planar audio
)

// FourCCString renders a FourCC for logs, e.g. "VMX1".
func FourCCString(fcc uint32) string {
	b := []byte{byte(fcc), byte(fcc >> 8), byte(fcc >> 16), byte(fcc >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return fmt.Sprintf("0x%08X", fcc)
		}
	}
	return string(b)
}

// Wire sizes and limits.
const (
	BaseHeaderSize  = 16
	VideoHeaderSize = 32
	AudioHeaderSize = 24

	// Per-type payload ceilings. Violations trigger resynchronization.
	MaxVideoPayload    = 16 << 20
	MaxAudioPayload    = 1 << 20
	MaxMetadataPayload = 1 << 20

	// Version is the only protocol version in existence.
	Version = 1

	// resyncLimit bounds how many payload bytes a reader will skip while
	// recovering from a malformed header.
	resyncLimit = 64 << 10
)

// Dimension bounds for video extended headers.
const (
	MaxWidth  = 7680
	MaxHeight = 4320
)

// maxPayload returns the payload ceiling for a frame type. Unknown types
// get zero, which forces the reader into resynchronization.
func maxPayload(t Type) uint32 {
	switch t {
	case TypeVideo:
		return MaxVideoPayload
	case TypeAudio:
		return MaxAudioPayload
	case TypeMetadata:
		return MaxMetadataPayload
	}
	return 0
}

// VideoHeader is the 32-byte extended header preceding a video payload.
type VideoHeader struct {
	Codec       uint32
	Width       int32
	Height      int32
	FrameRateN  int32
	FrameRateD  int32
	AspectRatio float32
	Interlaced  int32
	ColorSpace  int32
}

// AppendTo appends the little-endian encoding of h to dst.
func (h *VideoHeader) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.Codec)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Width))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Height))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.FrameRateN))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.FrameRateD))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(h.AspectRatio))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Interlaced))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.ColorSpace))
	return dst
}

// ParseVideoHeader decodes the extended header at the start of a video
// payload and returns the remaining payload bytes.
func ParseVideoHeader(payload []byte) (VideoHeader, []byte, error) {
	if len(payload) < VideoHeaderSize {
		return VideoHeader{}, nil, fmt.Errorf("video header: %d bytes, need %d", len(payload), VideoHeaderSize)
	}
	h := VideoHeader{
		Codec:       binary.LittleEndian.Uint32(payload[0:]),
		Width:       int32(binary.LittleEndian.Uint32(payload[4:])),
		Height:      int32(binary.LittleEndian.Uint32(payload[8:])),
		FrameRateN:  int32(binary.LittleEndian.Uint32(payload[12:])),
		FrameRateD:  int32(binary.LittleEndian.Uint32(payload[16:])),
		AspectRatio: math.Float32frombits(binary.LittleEndian.Uint32(payload[20:])),
		Interlaced:  int32(binary.LittleEndian.Uint32(payload[24:])),
		ColorSpace:  int32(binary.LittleEndian.Uint32(payload[28:])),
	}
	if h.Width < 1 || h.Width > MaxWidth || h.Height < 1 || h.Height > MaxHeight {
		return VideoHeader{}, nil, fmt.Errorf("video header: dimensions %dx%d out of range", h.Width, h.Height)
	}
	return h, payload[VideoHeaderSize:], nil
}

// AudioHeader is the normalized form of the 24-byte audio extended header.
// Two wire layouts exist (legacy "camera" and vMix); marshaling always
// produces the vMix layout, parsing accepts both.
type AudioHeader struct {
	Codec             uint32
	SampleRate        uint32
	Channels          uint32
	BitsPerSample     uint32
	SamplesPerChannel uint32
	ActiveChannels    uint32 // bitfield, vMix layout only
}

// AppendTo appends the vMix-layout encoding of h to dst:
// codec, sample_rate, samples_per_channel, channels, active_channels, reserved.
func (h *AudioHeader) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.Codec)
	dst = binary.LittleEndian.AppendUint32(dst, h.SampleRate)
	dst = binary.LittleEndian.AppendUint32(dst, h.SamplesPerChannel)
	dst = binary.LittleEndian.AppendUint32(dst, h.Channels)
	dst = binary.LittleEndian.AppendUint32(dst, h.ActiveChannels)
	dst = binary.LittleEndian.AppendUint32(dst, 0)
	return dst
}

// ParseAudioHeader decodes the extended header at the start of an audio
// payload, disambiguating the two layouts, and returns the remaining
// payload bytes.
//
// Disambiguation: a u32 in [1..8] at offset 8 is a channel count, so the
// frame uses the legacy layout (codec, rate, channels, bits, samples).
// Anything else at offset 8 is a sample count and the frame uses the vMix
// layout (codec, rate, samples, channels, active-channel bitfield). The
// legacy branch also tolerates the known-wrong variant that wrote
// bits_per_sample at offset 16 instead of 12.
func ParseAudioHeader(payload []byte) (AudioHeader, []byte, error) {
	if len(payload) < AudioHeaderSize {
		return AudioHeader{}, nil, fmt.Errorf("audio header: %d bytes, need %d", len(payload), AudioHeaderSize)
	}
	h := AudioHeader{
		Codec:      binary.LittleEndian.Uint32(payload[0:]),
		SampleRate: binary.LittleEndian.Uint32(payload[4:]),
	}
	f8 := binary.LittleEndian.Uint32(payload[8:])
	f12 := binary.LittleEndian.Uint32(payload[12:])
	f16 := binary.LittleEndian.Uint32(payload[16:])
	if f8 >= 1 && f8 <= 8 {
		h.Channels = f8
		if f12 >= 8 && f12 <= 64 {
			h.BitsPerSample = f12
			h.SamplesPerChannel = f16
		} else {
			// bits_per_sample landed at offset 16; samples at 12.
			h.SamplesPerChannel = f12
			h.BitsPerSample = f16
		}
	} else {
		h.SamplesPerChannel = f8
		h.Channels = f12
		h.ActiveChannels = f16
	}
	if h.Codec == FourCCFPA1 {
		h.BitsPerSample = 32
	}
	return h, payload[AudioHeaderSize:], nil
}

// Valid reports whether the header's parameters are in the recognized
// ranges. Frames failing this check are dropped, never guessed at.
func (h *AudioHeader) Valid() bool {
	return h.SampleRate >= 4000 && h.SampleRate <= 192000 &&
		h.Channels >= 1 && h.Channels <= 8 &&
		h.BitsPerSample >= 8 && h.BitsPerSample <= 64 &&
		h.SamplesPerChannel > 0
}
