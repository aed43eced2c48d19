// Package rsyncwire implements the Frame Transport described in spec.md
// §4.1: a buffered little-endian byte channel, plus a tagged multiplex
// layer that lets out-of-band messages (errors, warnings, log lines,
// keepalives, redo requests) be injected into the data stream without the
// data consumer ever seeing them.
package rsyncwire

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/rsync"
)

// Conn is the buffered byte channel contract from spec.md §4.1: putByte,
// putChar, putInt, put(bytes), getByte, getChar, getInt, get(n). All
// multi-byte integers are little-endian. Reader and Writer are swapped out
// by callers as a session moves from the unbuffered handshake phase into
// the tagged multiplex region (see MultiplexReader / MultiplexWriter).
type Conn struct {
	Reader io.Reader
	Writer io.Writer
}

func (c *Conn) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return buf[0], nil
}

// ReadChar reads a 2-byte little-endian unsigned value.
func (c *Conn) ReadChar() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (c *Conn) ReadInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// ReadInt64 decodes the rsync long-integer encoding: a 32-bit value unless
// it is -1, in which case a genuine 64-bit little-endian value follows.
func (c *Conn) ReadInt64() (int64, error) {
	v, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v != -1 {
		return int64(v), nil
	}
	var buf [8]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// ReadN reads exactly n bytes and returns them as a new slice (spec.md's
// get(n) -> ByteSlice).
func (c *Conn) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.Reader, buf); err != nil {
		return nil, wrapReadErr(err)
	}
	return buf, nil
}

// Skip discards n bytes.
func (c *Conn) Skip(n int) error {
	_, err := c.ReadN(n)
	return err
}

func (c *Conn) WriteByte(b byte) error {
	_, err := c.Writer.Write([]byte{b})
	return err
}

func (c *Conn) WriteChar(v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := c.Writer.Write(buf[:])
	return err
}

func (c *Conn) WriteInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

// WriteInt64 encodes using the rsync long-integer convention: a plain
// 32-bit value when it fits, else -1 followed by the full 64-bit value.
func (c *Conn) WriteInt64(v int64) error {
	if v >= 0 && v <= 0x7FFFFFFF {
		return c.WriteInt32(int32(v))
	}
	if err := c.WriteInt32(-1); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

func (c *Conn) Write(p []byte) error {
	_, err := c.Writer.Write(p)
	return err
}

func (c *Conn) WriteString(s string) error {
	_, err := io.WriteString(c.Writer, s)
	return err
}

// Flush flushes the underlying Writer if it implements an explicit Flush
// method (bufio.Writer, MultiplexWriter); otherwise it is a no-op.
func (c *Conn) Flush() error {
	type flusher interface{ Flush() error }
	if f, ok := c.Writer.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// WriteMessage sends an out-of-band message (ERROR_XFER, REDO, WARNING, ...)
// when the Writer is a *MultiplexWriter; on a plain (non-multiplexed) Writer
// it is not representable on the wire, so the caller's error is returned
// directly instead of being sent out-of-band.
func (c *Conn) WriteMessage(code rsync.MessageCode, payload []byte) error {
	if mw, ok := c.Writer.(*MultiplexWriter); ok {
		return mw.WriteMsg(code, payload)
	}
	return rsyncerr.NewProtocolError("%s: %s", code, payload)
}

// wrapReadErr maps a short/absent read to the EOF error kind from spec.md
// §7. A plain io.EOF (clean channel close) is passed through unchanged so
// callers can use errors.Is. A pipe/conn torn down by our own context
// cancellation becomes Cancelled, not counted as failure (spec.md §7); a
// deadline exceeded waiting on the peer becomes an Io error wrapping
// Timeout (spec.md §5); anything else is a genuine transport/disk failure
// and becomes a plain Io error, never Cancelled.
func wrapReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rsyncerr.NewCancelled(err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return rsyncerr.NewIoTimeout(err)
	}
	return rsyncerr.NewIo("", err)
}
