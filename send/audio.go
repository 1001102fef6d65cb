package send

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync/atomic"

	"github.com/zsiec/omt/frame"
)

// Fixed audio format: 48 kHz stereo 32-bit float, 960 samples per channel
// per packet (20 ms).
const (
	AudioSampleRate       = 48000
	AudioChannels         = 2
	AudioSamplesPerPacket = 960

	// activeChannelsLR is the active-channel bitfield for L+R.
	activeChannelsLR = 0x03
)

// AudioSource supplies interleaved stereo float samples
// ([L0,R0,L1,R1,…]). ReadPCM blocks until samples are available and
// returns the number of samples written into buf.
type AudioSource interface {
	ReadPCM(buf []float32) (int, error)
}

// audioEmitter de-interleaves captured stereo into planar FPA1 packets and
// fans them out to audio-subscribed sessions. All buffers are preallocated;
// the emit path allocates nothing.
type audioEmitter struct {
	srv     *Server
	enabled atomic.Bool
	closed  atomic.Bool

	planar []byte // [L0..L959 | R0..R959] as little-endian float bits
	ext    []byte
}

func newAudioEmitter(srv *Server) *audioEmitter {
	e := &audioEmitter{
		srv:    srv,
		planar: make([]byte, AudioSamplesPerPacket*AudioChannels*4),
		ext:    make([]byte, 0, frame.AudioHeaderSize),
	}
	e.enabled.Store(true)
	return e
}

func (e *audioEmitter) close() {
	e.closed.Store(true)
}

// SetAudioEnabled gates the audio path without tearing down sessions.
func (s *Server) SetAudioEnabled(enabled bool) {
	s.audio.enabled.Store(enabled)
}

// SubmitAudio emits one packet of interleaved stereo float samples.
// Called on the capture thread; a short final packet is allowed. Returns
// without emitting when audio is disabled.
func (s *Server) SubmitAudio(samples []float32) {
	if !s.running.Load() || !s.audio.enabled.Load() {
		return
	}
	s.audio.emit(samples)
}

// emit de-interleaves, frames, and fans out one packet.
func (e *audioEmitter) emit(samples []float32) {
	perChannel := len(samples) / AudioChannels
	if perChannel == 0 {
		return
	}
	if perChannel > AudioSamplesPerPacket {
		perChannel = AudioSamplesPerPacket
	}

	left := e.planar
	right := e.planar[perChannel*4:]
	for i := 0; i < perChannel; i++ {
		binary.LittleEndian.PutUint32(left[i*4:], math.Float32bits(samples[i*2]))
		binary.LittleEndian.PutUint32(right[i*4:], math.Float32bits(samples[i*2+1]))
	}
	payload := e.planar[:perChannel*AudioChannels*4]

	ah := frame.AudioHeader{
		Codec:             frame.FourCCFPA1,
		SampleRate:        AudioSampleRate,
		Channels:          AudioChannels,
		SamplesPerChannel: uint32(perChannel),
		ActiveChannels:    activeChannelsLR,
	}
	e.ext = ah.AppendTo(e.ext[:0])

	ts := frame.Ticks()
	for _, sess := range e.srv.snapshot() {
		if !sess.subAudio.Load() || sess.closed.Load() {
			continue
		}
		if err := sess.writeFrame(frame.TypeAudio, ts, e.ext, payload); err != nil {
			e.srv.handleWriteError(sess, err)
			continue
		}
		if e.srv.cfg.Metrics != nil {
			e.srv.cfg.Metrics.FramesSent.WithLabelValues("audio").Inc()
			e.srv.cfg.Metrics.BytesSent.Add(float64(len(e.ext) + len(payload)))
		}
	}
	if e.srv.cfg.Metrics != nil {
		e.srv.cfg.Metrics.AudioPackets.Inc()
	}
}

// audioLoop drains the configured capture source at packet cadence.
func (s *Server) audioLoop(src AudioSource) {
	defer s.wg.Done()

	buf := make([]float32, AudioSamplesPerPacket*AudioChannels)
	for s.running.Load() && !s.audio.closed.Load() {
		n, err := src.ReadPCM(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.emitError("audio", err.Error())
			}
			return
		}
		if n == 0 {
			continue
		}
		s.SubmitAudio(buf[:n])
	}
}
