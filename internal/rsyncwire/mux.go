package rsyncwire

import (
	"encoding/binary"
	"io"

	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/rsync"
)

// tagLengthMask isolates the 24-bit length field of a multiplex tag; the
// remaining high byte carries the message code.
const (
	tagLengthMask = 0xFFFFFF
	tagMaxLength  = tagLengthMask
	writeBufSize  = 8192
)

// MessageHandler is invoked for every out-of-band frame the MultiplexReader
// intercepts (anything other than rsync.MsgData). Handlers that want to
// stop the read loop (e.g. on MsgErrorXfer marking a fatal condition)
// return a non-nil error, which Read then surfaces to the
// caller.
type MessageHandler func(code rsync.MessageCode, payload []byte) error

// MultiplexReader turns a tagged byte stream back into a plain data
// stream: every 4-byte tag is decoded, DATA payloads are handed to the
// caller through Read, and any other code is routed to Handler and never
// exposed to the data consumer (spec.md §4.1, "tagged multiplex").
type MultiplexReader struct {
	Reader  io.Reader
	Handler MessageHandler

	remaining int // bytes left in the current DATA frame
	TotalRead int64
}

func (m *MultiplexReader) Read(p []byte) (int, error) {
	for m.remaining == 0 {
		code, length, err := m.readTag()
		if err != nil {
			return 0, err
		}
		if code == rsync.MsgData {
			m.remaining = length
			continue
		}
		payload, err := m.readFull(length)
		if err != nil {
			return 0, err
		}
		if m.Handler != nil {
			if err := m.Handler(code, payload); err != nil {
				return 0, err
			}
		}
	}
	if len(p) > m.remaining {
		p = p[:m.remaining]
	}
	n, err := m.Reader.Read(p)
	m.remaining -= n
	m.TotalRead += int64(n)
	return n, err
}

func (m *MultiplexReader) readTag() (rsync.MessageCode, int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(m.Reader, buf[:]); err != nil {
		return 0, 0, err
	}
	m.TotalRead += 4
	tag := binary.LittleEndian.Uint32(buf[:])
	code := rsync.MessageCode(tag >> 24)
	length := int(tag & tagLengthMask)
	if code == rsync.MsgNoSend && length != 4 {
		return 0, 0, rsyncerr.NewProtocolError("NO_SEND frame with length %d, want 4", length)
	}
	return code, length, nil
}

func (m *MultiplexReader) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(m.Reader, buf); err != nil {
		return nil, err
	}
	m.TotalRead += int64(n)
	return buf, nil
}

// MultiplexWriter is the write-side counterpart: ordinary Write calls are
// coalesced into an 8 KiB buffer and flushed as a single tagged DATA
// frame, while WriteMsg sends an out-of-band frame immediately after
// flushing whatever DATA is pending, so message ordering on the wire
// matches call order.
type MultiplexWriter struct {
	Writer io.Writer

	buf        []byte
	TotalWritten int64
}

func (m *MultiplexWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		free := writeBufSize - len(m.buf)
		if free == 0 {
			if err := m.Flush(); err != nil {
				return written, err
			}
			free = writeBufSize
		}
		chunk := p
		if len(chunk) > free {
			chunk = chunk[:free]
		}
		m.buf = append(m.buf, chunk...)
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// Flush writes any buffered DATA as a single tagged frame. If nothing has
// been buffered, the reserved tag slot is simply never emitted (there is
// nothing to rewind, since we never speculatively write a placeholder
// header to the wire).
func (m *MultiplexWriter) Flush() error {
	if len(m.buf) == 0 {
		return nil
	}
	if err := m.writeTag(rsync.MsgData, len(m.buf)); err != nil {
		return err
	}
	n, err := m.Writer.Write(m.buf)
	m.TotalWritten += int64(n)
	m.buf = m.buf[:0]
	return err
}

// WriteMsg sends an out-of-band message, flushing any pending DATA first
// so the peer sees frames in the order they were produced.
func (m *MultiplexWriter) WriteMsg(code rsync.MessageCode, payload []byte) error {
	if err := m.Flush(); err != nil {
		return err
	}
	if err := m.writeTag(code, len(payload)); err != nil {
		return err
	}
	n, err := m.Writer.Write(payload)
	m.TotalWritten += int64(n)
	return err
}

func (m *MultiplexWriter) writeTag(code rsync.MessageCode, length int) error {
	if length > tagMaxLength {
		return rsyncerr.NewProtocolError("frame of %d bytes exceeds the %d-byte tag length field", length, tagMaxLength)
	}
	tag := uint32(code)<<24 | uint32(length)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], tag)
	n, err := m.Writer.Write(buf[:])
	m.TotalWritten += int64(n)
	return err
}
