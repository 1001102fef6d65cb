package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame is one decoded wire frame. Payload includes the type-specific
// extended header and remains valid only until the next ReadFrame call.
type Frame struct {
	Type      Type
	Timestamp int64 // 100-nanosecond ticks, opaque to receivers
	Payload   []byte
}

// Reader decodes OMT frames from a byte stream. The payload buffer is
// reused across calls so the steady state allocates nothing.
type Reader struct {
	r       io.Reader
	hdr     [BaseHeaderSize]byte
	payload []byte
}

// NewReader wraps r for frame decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads the next frame. A malformed header (wrong version or a
// payload length beyond the type's ceiling) does not terminate the stream:
// up to min(payload_length, 64 KiB) bytes are skipped and the reader tries
// again at the next byte boundary. A short read mid-frame is a hard error.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
			return Frame{}, fmt.Errorf("read frame header: %w", err)
		}

		version := r.hdr[0]
		typ := Type(r.hdr[1])
		ts := int64(binary.LittleEndian.Uint64(r.hdr[2:10]))
		length := binary.LittleEndian.Uint32(r.hdr[12:16])

		if version != Version || length > maxPayload(typ) || maxPayload(typ) == 0 {
			if err := r.resync(length); err != nil {
				return Frame{}, err
			}
			continue
		}

		if cap(r.payload) < int(length) {
			r.payload = make([]byte, length)
		}
		r.payload = r.payload[:length]
		if _, err := io.ReadFull(r.r, r.payload); err != nil {
			return Frame{}, fmt.Errorf("read frame payload (%d bytes): %w", length, err)
		}

		return Frame{Type: typ, Timestamp: ts, Payload: r.payload}, nil
	}
}

// resync discards a bounded run of bytes after a malformed header so a
// corrupted length field cannot make the reader swallow the whole stream.
func (r *Reader) resync(length uint32) error {
	skip := int64(length)
	if skip > resyncLimit {
		skip = resyncLimit
	}
	if skip == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r.r, skip); err != nil {
		return fmt.Errorf("resync skip %d bytes: %w", skip, err)
	}
	return nil
}

// WriteFrame writes one complete frame: base header, extended header, then
// each payload chunk in order. Multiple chunks let a raw NV12 frame go out
// as its Y and UV planes without a concatenation copy. The caller owns
// flushing any buffered writer so that a session can batch the whole frame
// into a single flush under its write lock.
func WriteFrame(w io.Writer, typ Type, timestamp int64, ext []byte, payloads ...[]byte) error {
	length := len(ext)
	for _, p := range payloads {
		length += len(p)
	}

	var hdr [BaseHeaderSize]byte
	hdr[0] = Version
	hdr[1] = byte(typ)
	binary.LittleEndian.PutUint64(hdr[2:10], uint64(timestamp))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(length))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(ext) > 0 {
		if _, err := w.Write(ext); err != nil {
			return fmt.Errorf("write extended header: %w", err)
		}
	}
	for _, p := range payloads {
		if len(p) == 0 {
			continue
		}
		if _, err := w.Write(p); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}
