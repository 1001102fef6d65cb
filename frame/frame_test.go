package frame

import (
	"encoding/binary"
	"testing"
)

func TestVideoHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := VideoHeader{
		Codec:       FourCCVMX1,
		Width:       1920,
		Height:      1080,
		FrameRateN:  30000,
		FrameRateD:  1001,
		AspectRatio: 16.0 / 9.0,
		Interlaced:  0,
		ColorSpace:  709,
	}
	buf := h.AppendTo(nil)
	if len(buf) != VideoHeaderSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), VideoHeaderSize)
	}

	got, rest, err := ParseVideoHeader(append(buf, 0xAA, 0xBB))
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("round trip: got %+v, want %+v", got, h)
	}
	if len(rest) != 2 || rest[0] != 0xAA {
		t.Errorf("rest = %v, want trailing payload", rest)
	}
}

func TestParseVideoHeaderRejectsBadDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		width, height int32
	}{
		{"zero width", 0, 1080},
		{"zero height", 1920, 0},
		{"too wide", 7681, 1080},
		{"too tall", 1920, 4321},
		{"negative", -1, 1080},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := VideoHeader{Codec: FourCCNV12, Width: tt.width, Height: tt.height}
			if _, _, err := ParseVideoHeader(h.AppendTo(nil)); err == nil {
				t.Errorf("ParseVideoHeader accepted %dx%d", tt.width, tt.height)
			}
		})
	}
}

// buildAudioHeader lays out six u32 fields little-endian, as on the wire.
func buildAudioHeader(fields [6]uint32) []byte {
	buf := make([]byte, AudioHeaderSize)
	for i, f := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:], f)
	}
	return buf
}

func TestParseAudioHeaderVMixLayout(t *testing.T) {
	t.Parallel()

	// codec, rate, samples_per_channel, channels, active bitfield, reserved
	buf := buildAudioHeader([6]uint32{FourCCFPA1, 48000, 960, 2, 0x03, 0})
	h, rest, err := ParseAudioHeader(append(buf, 1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	if h.Channels != 2 {
		t.Errorf("channels = %d, want 2", h.Channels)
	}
	if h.SamplesPerChannel != 960 {
		t.Errorf("samples = %d, want 960", h.SamplesPerChannel)
	}
	if h.SampleRate != 48000 {
		t.Errorf("rate = %d, want 48000", h.SampleRate)
	}
	if h.ActiveChannels != 0x03 {
		t.Errorf("active channels = %#x, want 0x03", h.ActiveChannels)
	}
	if h.BitsPerSample != 32 {
		t.Errorf("bits = %d, want 32 (inferred for FPA1)", h.BitsPerSample)
	}
	if len(rest) != 3 {
		t.Errorf("rest = %d bytes, want 3", len(rest))
	}
}

func TestParseAudioHeaderLegacyLayout(t *testing.T) {
	t.Parallel()

	for _, channels := range []uint32{1, 2} {
		// codec, rate, channels, bits, samples, reserved
		buf := buildAudioHeader([6]uint32{FourCCFPA1, 44100, channels, 32, 1024, 0})
		h, _, err := ParseAudioHeader(buf)
		if err != nil {
			t.Fatal(err)
		}
		if h.Channels != channels {
			t.Errorf("channels = %d, want %d", h.Channels, channels)
		}
		if h.SamplesPerChannel != 1024 {
			t.Errorf("samples = %d, want 1024", h.SamplesPerChannel)
		}
	}
}

func TestParseAudioHeaderKnownWrongVariant(t *testing.T) {
	t.Parallel()

	// bits_per_sample leaked into offset 16; samples landed at offset 12.
	buf := buildAudioHeader([6]uint32{0, 48000, 2, 960, 16, 0})
	h, _, err := ParseAudioHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.Channels != 2 {
		t.Errorf("channels = %d, want 2", h.Channels)
	}
	if h.SamplesPerChannel != 960 {
		t.Errorf("samples = %d, want 960", h.SamplesPerChannel)
	}
	if h.BitsPerSample != 16 {
		t.Errorf("bits = %d, want 16", h.BitsPerSample)
	}
}

func TestAudioHeaderAppendProducesVMixLayout(t *testing.T) {
	t.Parallel()

	h := AudioHeader{
		Codec:             FourCCFPA1,
		SampleRate:        48000,
		Channels:          2,
		SamplesPerChannel: 960,
		ActiveChannels:    0x03,
	}
	buf := h.AppendTo(nil)
	if len(buf) != AudioHeaderSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), AudioHeaderSize)
	}
	want := [6]uint32{FourCCFPA1, 48000, 960, 2, 0x03, 0}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(buf[i*4:]); got != w {
			t.Errorf("u32[%d] = %#x, want %#x", i, got, w)
		}
	}
}

func TestAudioHeaderValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		h    AudioHeader
		want bool
	}{
		{"typical", AudioHeader{SampleRate: 48000, Channels: 2, BitsPerSample: 32, SamplesPerChannel: 960}, true},
		{"zero channels", AudioHeader{SampleRate: 48000, Channels: 0, BitsPerSample: 32, SamplesPerChannel: 960}, false},
		{"nine channels", AudioHeader{SampleRate: 48000, Channels: 9, BitsPerSample: 32, SamplesPerChannel: 960}, false},
		{"rate too low", AudioHeader{SampleRate: 3999, Channels: 2, BitsPerSample: 32, SamplesPerChannel: 960}, false},
		{"rate too high", AudioHeader{SampleRate: 192001, Channels: 2, BitsPerSample: 32, SamplesPerChannel: 960}, false},
		{"bits too small", AudioHeader{SampleRate: 48000, Channels: 2, BitsPerSample: 4, SamplesPerChannel: 960}, false},
		{"no samples", AudioHeader{SampleRate: 48000, Channels: 2, BitsPerSample: 32, SamplesPerChannel: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.h.Valid(); got != tt.want {
				t.Errorf("Valid() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestFourCCString(t *testing.T) {
	t.Parallel()

	if got := FourCCString(FourCCVMX1); got != "VMX1" {
		t.Errorf("FourCCString(VMX1) = %q", got)
	}
	if got := FourCCString(FourCCNV12); got != "NV12" {
		t.Errorf("FourCCString(NV12) = %q", got)
	}
	if got := FourCCString(0x01020304); got != "0x01020304" {
		t.Errorf("FourCCString(non-printable) = %q", got)
	}
}
