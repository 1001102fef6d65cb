package send

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/omt/frame"
)

const (
	sessionReadTimeout = 5 * time.Second
	sessionSendBuffer  = 512 << 10
	sessionWriteBuffer = 256 << 10
)

// session is one accepted client connection. The read side tracks
// subscription state; the write side serializes every frame under wmu so
// video, audio, and metadata never interleave mid-frame on the socket.
type session struct {
	id     string
	conn   *net.TCPConn
	remote string
	log    *slog.Logger

	wmu sync.Mutex
	bw  *bufio.Writer

	subVideo atomic.Bool
	subAudio atomic.Bool
	closed   atomic.Bool
}

func newSession(conn *net.TCPConn, log *slog.Logger) *session {
	id := uuid.NewString()
	_ = conn.SetNoDelay(true)
	_ = conn.SetWriteBuffer(sessionSendBuffer)
	return &session{
		id:     id,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		log:    log.With("session", id, "remote", conn.RemoteAddr().String()),
		bw:     bufio.NewWriterSize(conn, sessionWriteBuffer),
	}
}

// writeFrame sends one complete frame and flushes, holding the session
// write lock for the duration.
func (s *session) writeFrame(typ frame.Type, ts int64, ext []byte, payloads ...[]byte) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := frame.WriteFrame(s.bw, typ, ts, ext, payloads...); err != nil {
		return err
	}
	return s.bw.Flush()
}

// writeMetadata sends a metadata frame carrying the given fragment.
func (s *session) writeMetadata(text string) error {
	return s.writeFrame(frame.TypeMetadata, frame.Ticks(), nil, []byte(text))
}

// close shuts the socket down once; safe from any goroutine.
func (s *session) close() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
	}
}

// readLoop blocks on framed metadata from the client until the connection
// dies. Read timeouts just re-enter the read; only real errors end the
// session. Subscribing to audio triggers a fresh tally, without which some
// peers treat the audio subchannel as idle and tear it down.
func (srv *Server) readLoop(s *session) {
	defer srv.removeSession(s)

	rd := frame.NewReader(s.conn)
	for srv.running.Load() {
		_ = s.conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
		f, err := rd.ReadFrame()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if !isDisconnect(err) {
				s.log.Debug("session read error", "error", err)
			}
			return
		}
		if f.Type != frame.TypeMetadata {
			continue
		}
		srv.handleClientMetadata(s, frame.MetadataText(f.Payload))
	}
}

func (srv *Server) handleClientMetadata(s *session, text string) {
	if frame.HasToken(text, "Subscribe", "Video") {
		s.subVideo.Store(true)
		s.log.Debug("subscribed", "stream", "video")
	}
	if frame.HasToken(text, "Subscribe", "Audio") {
		s.subAudio.Store(true)
		s.log.Debug("subscribed", "stream", "audio")
		if err := s.writeMetadata(frame.Tally(srv.tallyState())); err != nil {
			s.log.Debug("tally after audio subscribe", "error", err)
		}
	}
	if frame.HasToken(text, "OMTSettings") {
		if q := frame.AttrValue(text, "Quality"); q != "" {
			srv.setQuality(q)
		}
	}
}

// isDisconnect classifies errors that mean the peer is gone, which evict
// the session silently. Anything else is surfaced to the error callback.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
