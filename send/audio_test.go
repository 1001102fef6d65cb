package send

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/zsiec/omt/frame"
)

func TestAudioPlanarization(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, nil)
	c := dialTest(t, srv)
	c.send(frame.SubscribeAudio)
	waitFor(t, time.Second, func() bool { return audioSubscribers(srv) == 1 }, "audio subscription not observed")

	samples := make([]float32, AudioSamplesPerPacket*AudioChannels)
	for i := 0; i < AudioSamplesPerPacket; i++ {
		samples[i*2] = 1.0
		samples[i*2+1] = -1.0
	}
	srv.SubmitAudio(samples)

	f := c.readUntil(frame.TypeAudio, 2*time.Second)
	data := f.Payload[frame.AudioHeaderSize:]
	if len(data) != AudioSamplesPerPacket*AudioChannels*4 {
		t.Fatalf("payload = %d bytes, want %d", len(data), AudioSamplesPerPacket*AudioChannels*4)
	}

	// Left plane first, then right plane.
	for i := 0; i < AudioSamplesPerPacket; i++ {
		l := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		r := math.Float32frombits(binary.LittleEndian.Uint32(data[(AudioSamplesPerPacket+i)*4:]))
		if l != 1.0 || r != -1.0 {
			t.Fatalf("sample %d: L=%f R=%f, want 1.0/-1.0", i, l, r)
		}
	}
}

func TestSetAudioEnabledGates(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, nil)
	c := dialTest(t, srv)
	c.send(frame.SubscribeAudio)
	waitFor(t, time.Second, func() bool { return audioSubscribers(srv) == 1 }, "audio subscription not observed")

	srv.SetAudioEnabled(false)
	srv.SubmitAudio(make([]float32, AudioSamplesPerPacket*AudioChannels))

	_ = c.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		f, err := c.rd.ReadFrame()
		if err != nil {
			break // timed out: nothing but metadata arrived
		}
		if f.Type == frame.TypeAudio {
			t.Fatal("audio frame emitted while disabled")
		}
	}

	srv.SetAudioEnabled(true)
	srv.SubmitAudio(make([]float32, AudioSamplesPerPacket*AudioChannels))
	c.readUntil(frame.TypeAudio, 2*time.Second)
}

func TestShortAudioPacket(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, nil)
	c := dialTest(t, srv)
	c.send(frame.SubscribeAudio)
	waitFor(t, time.Second, func() bool { return audioSubscribers(srv) == 1 }, "audio subscription not observed")

	srv.SubmitAudio(make([]float32, 480*AudioChannels))

	f := c.readUntil(frame.TypeAudio, 2*time.Second)
	ah, data, err := frame.ParseAudioHeader(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if ah.SamplesPerChannel != 480 {
		t.Errorf("samples = %d, want 480", ah.SamplesPerChannel)
	}
	if len(data) != 480*AudioChannels*4 {
		t.Errorf("payload = %d bytes, want %d", len(data), 480*AudioChannels*4)
	}
}

// scriptedSource produces packets at a fixed cadence until the server
// stops reading it.
type scriptedSource struct{}

func (s *scriptedSource) ReadPCM(buf []float32) (int, error) {
	time.Sleep(5 * time.Millisecond)
	for i := range buf {
		buf[i] = 0.5
	}
	return len(buf), nil
}

func TestAudioSourceLoop(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, func(cfg *Config) {
		cfg.AudioSource = &scriptedSource{}
	})
	c := dialTest(t, srv)
	c.send(frame.SubscribeAudio)
	waitFor(t, time.Second, func() bool { return audioSubscribers(srv) == 1 }, "audio subscription not observed")

	f := c.readUntil(frame.TypeAudio, 2*time.Second)
	if _, _, err := frame.ParseAudioHeader(f.Payload); err != nil {
		t.Fatal(err)
	}
}

func TestIsDisconnect(t *testing.T) {
	t.Parallel()

	if !isDisconnect(io.EOF) {
		t.Error("io.EOF not classified as disconnect")
	}
	if isDisconnect(errors.New("short write")) {
		t.Error("generic error classified as disconnect")
	}
}
