// Package send implements the OMT source: a TCP listener that fans a live
// video and audio stream out to subscribed client sessions.
package send

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/omt/frame"
	"github.com/zsiec/omt/internal/metrics"
	"github.com/zsiec/omt/vmx"
)

// Timing of the background maintenance loops. Variables so the tests can
// tighten them.
var (
	keepaliveInterval = 3 * time.Second
	statsInterval     = 3 * time.Second
)

const (
	// DefaultPort is the standard OMT listen port; senders picking
	// dynamically stay within PortMin..PortMax.
	DefaultPort = 6500
	PortMin     = 6400
	PortMax     = 6600

	probeTimeout = 2 * time.Second
	stopTimeout  = 3 * time.Second
)

// Stats is the observational status emitted every few seconds.
type Stats struct {
	FPS             float64
	Width           int
	Height          int
	Codec           string
	AvgEncodeMillis float64
	Clients         int
	Frames          int64
}

// Config configures a sender. Callbacks are invoked on unspecified
// goroutines and must not block.
type Config struct {
	Port       int    // 0 picks an ephemeral port
	SourceName string
	Threads    int // encoder thread count passed to libvmx

	// ForceNV12 is the codec-availability hint: when set, the sender skips
	// the compressed codec even if libvmx is loadable and emits raw NV12.
	ForceNV12 bool

	// AllowLoopback admits sessions from loopback addresses. Off by
	// default: loopback connections are the sender's own reachability
	// probe and are discarded.
	AllowLoopback bool

	// AudioSource, when set, is drained by a dedicated goroutine at the
	// fixed 48 kHz stereo cadence. Callers may instead push packets with
	// SubmitAudio.
	AudioSource AudioSource

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	OnListening          func(port int)
	OnClientConnected    func(remote string)
	OnClientDisconnected func()
	OnError              func(kind, detail string)
	OnStats              func(Stats)
	OnQuality            func(quality string)
}

// Server is an OMT source endpoint.
type Server struct {
	cfg Config
	log *slog.Logger

	ln      *net.TCPListener
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	smu      sync.Mutex
	sessions []*session // copy-on-write; fan-out snapshots are stable

	slot  *frameSlot
	audio *audioEmitter

	tmu     sync.Mutex
	preview bool
	program bool
	quality string

	frames atomic.Int64

	// stats window, encoder loop writes / stats loop reads
	stmu         sync.Mutex
	statFrames   int64
	statEncodeNs int64
	statWidth    int
	statHeight   int
	statCodec    string
}

// NewServer creates a sender with the given configuration.
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    log.With("component", "omt-send"),
		slot:   newFrameSlot(),
		stopCh: make(chan struct{}),
	}
	s.audio = newAudioEmitter(s)
	return s
}

// Start binds the listener and launches the accept, encode, audio, and
// maintenance goroutines. It returns immediately; Stop tears everything
// down. A bind failure (typically address-in-use) is returned so the
// caller can retry another port in the 6400-6600 range.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("send: already running")
	}

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4zero, Port: s.cfg.Port})
	if err != nil {
		s.running.Store(false)
		s.emitError("bind", err.Error())
		return fmt.Errorf("send: listen on port %d: %w", s.cfg.Port, err)
	}
	s.ln = ln
	port := s.Port()
	s.log.Info("listening", "port", port, "source", s.cfg.SourceName, "codec", s.codecName())
	if s.cfg.OnListening != nil {
		s.cfg.OnListening(port)
	}

	s.wg.Add(3)
	go s.acceptLoop()
	go s.encodeLoop()
	go s.maintenanceLoop()

	if s.cfg.AudioSource != nil {
		s.wg.Add(1)
		go s.audioLoop(s.cfg.AudioSource)
	}

	// One-shot reachability probe. The accept side discards it as a
	// loopback peer.
	go func() {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), probeTimeout)
		if err != nil {
			s.log.Warn("self-connectivity probe failed", "error", err)
			return
		}
		_ = conn.Close()
	}()

	return nil
}

// Stop ends the run: closes the listener, wakes the encoder, closes every
// session socket, and joins the workers with a bounded timeout. No error
// short of Stop is fatal to a running server.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	s.slot.close()
	s.audio.close()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, sess := range s.snapshot() {
		sess.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.log.Warn("workers did not stop in time")
	}
	s.log.Info("stopped", "frames", s.frames.Load())
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if s.ln == nil {
		return s.cfg.Port
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// SubmitVideo hands one camera frame to the encoder. Called on the capture
// thread; never blocks on the network. If the encoder is still busy with
// the previous frame it is overwritten, newest wins.
func (s *Server) SubmitVideo(in VideoInput) {
	if !s.running.Load() {
		return
	}
	if s.slot.submit(in) {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.FramesDropped.Inc()
		}
	}
}

// SetTally updates the preview/program state and broadcasts it to every
// connected session.
func (s *Server) SetTally(preview, program bool) {
	s.tmu.Lock()
	s.preview, s.program = preview, program
	s.tmu.Unlock()

	text := frame.Tally(preview, program)
	for _, sess := range s.snapshot() {
		if err := sess.writeMetadata(text); err != nil {
			s.handleWriteError(sess, err)
		}
	}
}

func (s *Server) tallyState() (bool, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.preview, s.program
}

// Quality returns the most recent quality requested by any client.
func (s *Server) Quality() string {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.quality
}

func (s *Server) setQuality(q string) {
	s.tmu.Lock()
	s.quality = q
	s.tmu.Unlock()
	if s.cfg.OnQuality != nil {
		s.cfg.OnQuality(q)
	}
}

func (s *Server) emitError(kind, detail string) {
	s.log.Warn("error", "kind", kind, "detail", detail)
	if s.cfg.OnError != nil {
		s.cfg.OnError(kind, detail)
	}
}

// acceptLoop admits clients until the listener closes.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.AcceptTCP()
		if err != nil {
			if s.running.Load() {
				s.log.Warn("accept error", "error", err)
				continue
			}
			return
		}
		go s.handleConn(conn)
	}
}

// handleConn rejects loopback probes, applies socket options, sends the
// greeting frames, and starts the session reader.
func (s *Server) handleConn(conn *net.TCPConn) {
	if !s.cfg.AllowLoopback {
		if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok && addr.IP.IsLoopback() {
			_ = conn.Close()
			return
		}
	}

	sess := newSession(conn, s.log)
	preview, program := s.tallyState()
	if err := sess.writeMetadata(frame.Info(s.cfg.SourceName)); err != nil {
		sess.close()
		return
	}
	if err := sess.writeMetadata(frame.Tally(preview, program)); err != nil {
		sess.close()
		return
	}

	s.addSession(sess)
	s.readLoop(sess)
}

func (s *Server) addSession(sess *session) {
	s.smu.Lock()
	next := make([]*session, len(s.sessions)+1)
	copy(next, s.sessions)
	next[len(next)-1] = sess
	s.sessions = next
	n := len(next)
	s.smu.Unlock()

	sess.log.Info("client connected", "clients", n)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ClientsConnected.Inc()
	}
	if s.cfg.OnClientConnected != nil {
		s.cfg.OnClientConnected(sess.remote)
	}
}

// removeSession drops sess from the set and closes its socket. Idempotent:
// the reader and a failed writer may both get here.
func (s *Server) removeSession(sess *session) {
	s.smu.Lock()
	found := false
	next := make([]*session, 0, len(s.sessions))
	for _, cur := range s.sessions {
		if cur == sess {
			found = true
			continue
		}
		next = append(next, cur)
	}
	if found {
		s.sessions = next
	}
	n := len(s.sessions)
	s.smu.Unlock()

	if !found {
		return
	}
	sess.close()
	sess.log.Info("client disconnected", "clients", n)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ClientsConnected.Dec()
	}
	if s.cfg.OnClientDisconnected != nil {
		s.cfg.OnClientDisconnected()
	}
}

// snapshot returns the stable copy-on-write session slice.
func (s *Server) snapshot() []*session {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.sessions
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	return len(s.snapshot())
}

// handleWriteError applies the send error policy: disconnect-class errors
// evict the session silently; anything else is surfaced and the session
// stays.
func (s *Server) handleWriteError(sess *session, err error) {
	if isDisconnect(err) {
		s.removeSession(sess)
		return
	}
	s.emitError("send", err.Error())
}

func (s *Server) codecName() string {
	if s.useVMX() {
		return "VMX1"
	}
	return "NV12"
}

// useVMX reports whether video goes out compressed.
func (s *Server) useVMX() bool {
	return !s.cfg.ForceNV12 && vmx.Available()
}

// encodeLoop is the video consumer: it swaps frames out of the producer
// slot, compresses through libvmx when present (raw NV12 otherwise), and
// fans the result out to every video-subscribed session.
func (s *Server) encodeLoop() {
	defer s.wg.Done()

	var (
		y, uv []byte // consumer's buffer pair, swapped with the producer
		enc   *vmx.Encoder
		out   []byte
		ext   []byte
		encW  int
		encH  int
	)
	defer func() {
		if enc != nil {
			enc.Close()
		}
	}()

	for s.running.Load() {
		meta, ok := s.slot.consume(&y, &uv)
		if !ok {
			return
		}

		codec := frame.FourCCNV12
		payloadY, payloadUV := y, uv
		var encodeNs int64

		if s.useVMX() {
			if enc == nil || encW != meta.width || encH != meta.height {
				if enc != nil {
					enc.Close()
				}
				var err error
				enc, err = vmx.NewEncoder(meta.width, meta.height, s.cfg.Threads)
				if err != nil {
					s.emitError("codec", err.Error())
					continue
				}
				encW, encH = meta.width, meta.height
				if cap(out) < enc.OutputBufferSize() {
					out = make([]byte, enc.OutputBufferSize())
				}
			}
			start := time.Now()
			n, err := enc.Encode(y, meta.yStride, uv, meta.width, out[:cap(out)])
			encodeNs = time.Since(start).Nanoseconds()
			if err != nil {
				s.emitError("codec", err.Error())
				continue
			}
			codec = frame.FourCCVMX1
			payloadY, payloadUV = out[:n], nil
		}

		s.recordFrame(meta, codec, encodeNs)

		sessions := s.snapshot()
		vh := frame.VideoHeader{
			Codec:       codec,
			Width:       int32(meta.width),
			Height:      int32(meta.height),
			AspectRatio: float32(meta.width) / float32(meta.height),
			ColorSpace:  709,
		}
		ext = vh.AppendTo(ext[:0])

		for _, sess := range sessions {
			if !sess.subVideo.Load() || sess.closed.Load() {
				continue
			}
			if err := sess.writeFrame(frame.TypeVideo, meta.timestamp, ext, payloadY, payloadUV); err != nil {
				s.handleWriteError(sess, err)
				continue
			}
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.FramesSent.WithLabelValues("video").Inc()
				s.cfg.Metrics.BytesSent.Add(float64(len(ext) + len(payloadY) + len(payloadUV)))
			}
		}
	}
}

// recordFrame folds one encoded frame into the stats window.
func (s *Server) recordFrame(meta frameMeta, codec uint32, encodeNs int64) {
	s.frames.Add(1)
	s.stmu.Lock()
	s.statFrames++
	s.statEncodeNs += encodeNs
	s.statWidth = meta.width
	s.statHeight = meta.height
	s.statCodec = frame.FourCCString(codec)
	s.stmu.Unlock()
	if s.cfg.Metrics != nil && encodeNs > 0 {
		s.cfg.Metrics.EncodeDuration.Observe(float64(encodeNs) / 1e9)
	}
}

// maintenanceLoop drives the idle keepalive and the periodic stats report.
// Sessions connected but not receiving video get a minimal tally frame so
// peers that tear down idle channels keep them open.
func (s *Server) maintenanceLoop() {
	defer s.wg.Done()

	keepalive := time.NewTicker(keepaliveInterval)
	stats := time.NewTicker(statsInterval)
	defer keepalive.Stop()
	defer stats.Stop()

	lastAt := time.Now()

	for {
		select {
		case <-s.stopCh:
			return

		case <-keepalive.C:
			preview, program := s.tallyState()
			text := frame.Tally(preview, program)
			for _, sess := range s.snapshot() {
				if sess.subVideo.Load() {
					continue
				}
				if err := sess.writeMetadata(text); err != nil {
					s.handleWriteError(sess, err)
				}
			}

		case <-stats.C:
			s.stmu.Lock()
			windowFrames := s.statFrames
			encodeNs := s.statEncodeNs
			width, height, codec := s.statWidth, s.statHeight, s.statCodec
			s.statFrames = 0
			s.statEncodeNs = 0
			s.stmu.Unlock()

			now := time.Now()
			elapsed := now.Sub(lastAt).Seconds()
			lastAt = now

			st := Stats{
				Width:   width,
				Height:  height,
				Codec:   codec,
				Clients: s.SessionCount(),
				Frames:  s.frames.Load(),
			}
			if elapsed > 0 {
				st.FPS = float64(windowFrames) / elapsed
			}
			if windowFrames > 0 {
				st.AvgEncodeMillis = float64(encodeNs) / float64(windowFrames) / 1e6
			}
			s.log.Info("stats",
				"fps", fmt.Sprintf("%.1f", st.FPS),
				"size", fmt.Sprintf("%dx%d", st.Width, st.Height),
				"codec", st.Codec,
				"encode_ms", fmt.Sprintf("%.2f", st.AvgEncodeMillis),
				"clients", st.Clients,
				"frames", st.Frames,
			)
			if s.cfg.OnStats != nil {
				s.cfg.OnStats(st)
			}
		}
	}
}
