package recv

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/omt/frame"
	"github.com/zsiec/omt/vmx"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 5 * time.Second
	recvBuffer     = 1 << 20

	// renderInterval paces the render consumer at roughly display rate.
	renderInterval = 16 * time.Millisecond

	// audioWarnEvery rate-limits invalid-audio-header logging.
	audioWarnEvery = 5 * time.Second
)

// Config configures a receiver. Callbacks are invoked on the receive or
// render goroutine and must not block; the audio callback in particular is
// the non-blocking playback sink.
type Config struct {
	Host    string
	Port    int
	Threads int // decoder thread count passed to libvmx

	// OnFrame receives each decoded RGBA frame. The buffer is only valid
	// for the duration of the call.
	OnFrame func(pix []byte, width, height int)

	// OnAudio receives interleaved float samples for FPA1 streams.
	OnAudio func(samples []float32, sampleRate, channels int)

	// OnAudioPCM16 receives little-endian shorts for 16-bit PCM streams.
	OnAudioPCM16 func(samples []int16, sampleRate, channels int)

	OnStatus func(text string)
	OnError  func(detail string)

	Logger *slog.Logger
}

// Client is one OMT receiver connection.
type Client struct {
	cfg Config
	log *slog.Logger

	conn    net.Conn
	running atomic.Bool
	stopCh  chan struct{}
	group   *errgroup.Group

	pool *Pool

	// receive-goroutine state
	decoder   *vmx.Decoder
	decW      int
	decH      int
	audioF    []float32
	audioS    []int16
	vmxWarned bool
	audioWarn time.Time

	lostOnce sync.Once
}

// NewClient creates a receiver for host:port.
func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		log:    log.With("component", "omt-recv", "source", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		stopCh: make(chan struct{}),
		pool:   NewPool(),
	}
}

// Start connects, sends the subscription handshake, and launches the
// receive and render goroutines. It returns once the handshake is on the
// wire; Stop (or a connection loss) ends the run.
func (c *Client) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("recv: already running")
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("recv: connect %s: %w", addr, err)
	}
	c.conn = conn
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetReadBuffer(recvBuffer)
	}

	for _, text := range []string{
		frame.SubscribeMetadata,
		frame.SubscribeVideo,
		frame.SubscribeAudio,
		frame.SettingsQuality("Default"),
	} {
		if err := frame.WriteFrame(conn, frame.TypeMetadata, frame.Ticks(), nil, []byte(text)); err != nil {
			_ = conn.Close()
			c.running.Store(false)
			return fmt.Errorf("recv: subscribe handshake: %w", err)
		}
	}

	c.log.Info("connected")

	c.group = &errgroup.Group{}
	c.group.Go(c.receiveLoop)
	c.group.Go(c.renderLoop)
	return nil
}

// Stop ends the run and joins the worker goroutines.
func (c *Client) Stop() {
	c.shutdown()
	if c.group != nil {
		_ = c.group.Wait()
	}
}

// shutdown transitions to the stopped state exactly once.
func (c *Client) shutdown() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) status(text string) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(text)
	}
}

// receiveLoop reads and dispatches frames until the connection dies or the
// client stops. Any read error while running surfaces a single
// "connection lost" and stops the client.
func (c *Client) receiveLoop() error {
	defer func() {
		if c.decoder != nil {
			c.decoder.Close()
			c.decoder = nil
		}
	}()

	rd := frame.NewReader(c.conn)
	for c.running.Load() {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		f, err := rd.ReadFrame()
		if err != nil {
			if c.running.Load() {
				c.lostOnce.Do(func() {
					c.log.Info("connection lost", "error", err)
					c.status("connection lost")
					if c.cfg.OnError != nil {
						c.cfg.OnError(err.Error())
					}
				})
				c.shutdown()
			}
			return nil
		}

		switch f.Type {
		case frame.TypeMetadata:
			text := frame.MetadataText(f.Payload)
			if frame.HasToken(text, "Tally") {
				c.status(text)
			}
		case frame.TypeVideo:
			c.handleVideo(f.Payload)
		case frame.TypeAudio:
			c.handleAudio(f.Payload)
		}
	}
	return nil
}

// handleVideo decodes one video frame into a pool buffer and publishes it
// to the pending slot for the render consumer.
func (c *Client) handleVideo(payload []byte) {
	vh, data, err := frame.ParseVideoHeader(payload)
	if err != nil {
		c.log.Debug("bad video header", "error", err)
		return
	}
	width, height := int(vh.Width), int(vh.Height)

	bmp := c.pool.Acquire(width, height)

	switch vh.Codec {
	case frame.FourCCVMX1:
		if !vmx.CanDecode() {
			c.pool.Release(bmp)
			if !c.vmxWarned {
				c.vmxWarned = true
				c.status("Cannot decode VMX1 (codec unavailable)")
			}
			return
		}
		if c.decoder == nil || c.decW != width || c.decH != height {
			if c.decoder != nil {
				c.decoder.Close()
			}
			c.decoder, err = vmx.NewDecoder(width, height, c.cfg.Threads)
			if err != nil {
				c.pool.Release(bmp)
				c.log.Warn("decoder create failed", "error", err)
				return
			}
			c.decW, c.decH = width, height
		}
		if err := c.decoder.Decode(data, bmp.Pix); err != nil {
			c.pool.Release(bmp)
			c.log.Debug("decode failed", "error", err)
			return
		}

	case frame.FourCCNV12:
		ySize := width * height
		uvSize := width * (height / 2)
		if len(data) < ySize+uvSize {
			c.pool.Release(bmp)
			c.log.Debug("short NV12 payload", "have", len(data), "need", ySize+uvSize)
			return
		}
		vmx.NV12ToRGBA(data[:ySize], data[ySize:ySize+uvSize], bmp.Pix, width, height)

	default:
		c.pool.Release(bmp)
		c.log.Debug("unsupported video codec", "codec", frame.FourCCString(vh.Codec))
		return
	}

	if displaced := c.pool.Publish(bmp); displaced != nil {
		c.pool.Release(displaced)
	}
}

// handleAudio validates the header, de-planarizes FPA1 float audio into
// interleaved samples, and feeds the playback sink.
func (c *Client) handleAudio(payload []byte) {
	ah, data, err := frame.ParseAudioHeader(payload)
	if err != nil {
		c.log.Debug("bad audio header", "error", err)
		return
	}
	if !ah.Valid() {
		if time.Since(c.audioWarn) > audioWarnEvery {
			c.audioWarn = time.Now()
			c.log.Warn("invalid audio header",
				"rate", ah.SampleRate, "channels", ah.Channels,
				"bits", ah.BitsPerSample, "samples", ah.SamplesPerChannel)
		}
		return
	}

	channels := int(ah.Channels)
	perChannel := int(ah.SamplesPerChannel)
	total := perChannel * channels

	switch {
	case ah.Codec == frame.FourCCFPA1 || ah.BitsPerSample == 32:
		if len(data) < total*4 || c.cfg.OnAudio == nil {
			return
		}
		if cap(c.audioF) < total {
			c.audioF = make([]float32, total)
		}
		out := c.audioF[:total]
		// planar [ch0… | ch1… | …] to interleaved [s0ch0, s0ch1, …]
		for ch := 0; ch < channels; ch++ {
			plane := data[ch*perChannel*4:]
			for i := 0; i < perChannel; i++ {
				out[i*channels+ch] = math.Float32frombits(binary.LittleEndian.Uint32(plane[i*4:]))
			}
		}
		c.cfg.OnAudio(out, int(ah.SampleRate), channels)

	case ah.BitsPerSample == 16:
		if len(data) < total*2 || c.cfg.OnAudioPCM16 == nil {
			return
		}
		if cap(c.audioS) < total {
			c.audioS = make([]int16, total)
		}
		out := c.audioS[:total]
		for i := 0; i < total; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		c.cfg.OnAudioPCM16(out, int(ah.SampleRate), channels)
	}
}

// renderLoop polls the pending slot at display rate, hands the frame to
// the display callback, and recycles the buffer afterwards.
func (c *Client) renderLoop() error {
	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ticker.C:
			b := c.pool.Take()
			if b == nil {
				continue
			}
			if c.cfg.OnFrame != nil {
				c.cfg.OnFrame(b.Pix, b.Width, b.Height)
			}
			c.pool.Release(b)
		}
	}
}
