// Package rsyncerr implements the error taxonomy from spec.md §7: a small
// set of error kinds distinguished by type rather than by sentinel value,
// so that callers can use errors.As to recover the kind and callers up the
// stack can still errors.Is/Unwrap through to the underlying cause.
package rsyncerr

import "fmt"

// ProtocolError means the peer violated the wire contract: a bad tag, an
// impossible length, a missing required feature flag, an out-of-range
// index. Session-level; the task executor cancels all roles and the
// session fails.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Msg }

func NewProtocolError(format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// ErrorXfer is a per-file transfer failure. Non-fatal: the session
// continues, the file is counted as an error, and ERROR_XFER/IO_ERROR is
// reported to the peer.
type ErrorXfer struct {
	Path string
	Err  error
}

func (e *ErrorXfer) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transfer error: %s", e.Path)
	}
	return fmt.Sprintf("transfer error: %s: %v", e.Path, e.Err)
}

func (e *ErrorXfer) Unwrap() error { return e.Err }

func NewErrorXfer(path string, err error) error {
	return &ErrorXfer{Path: path, Err: err}
}

// ModuleError covers unknown daemon module, permission denied, or
// authentication failure during the handshake.
type ModuleError struct {
	Msg string
}

func (e *ModuleError) Error() string { return "module error: " + e.Msg }

func NewModuleError(format string, args ...any) error {
	return &ModuleError{Msg: fmt.Sprintf(format, args...)}
}

// ArgumentError is an invalid option combination discovered during the
// handshake, e.g. recursive transfer requested without CF_INC_RECURSE.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string { return "argument error: " + e.Msg }

func NewArgumentError(format string, args ...any) error {
	return &ArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// ChunkOverflow means a checksum header would exceed the addressable chunk
// count (2^31-1 chunks); the caller should fall back to a zeroed checksum
// header rather than returning this to the peer.
type ChunkOverflow struct {
	Size int64
}

func (e *ChunkOverflow) Error() string {
	return fmt.Sprintf("chunk overflow: file of size %d needs more than 2^31-1 chunks", e.Size)
}

// Cancelled is returned when a blocking call is interrupted by a voluntary
// cancel or an external interrupt signal, never counted as failure if a
// stop was already requested.
type Cancelled struct {
	Reason string
}

func (e *Cancelled) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return "cancelled: " + e.Reason
}

func NewCancelled(reason string) error { return &Cancelled{Reason: reason} }

// Io means a genuine underlying filesystem or socket failure: the
// original cause is preserved via Unwrap, and Path is set when the
// failure is tied to a specific file (empty for a bare connection
// failure). Unlike Cancelled, this is always counted as a failure.
type Io struct {
	Path string
	Err  error
}

func (e *Io) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("i/o error: %v", e.Err)
	}
	return fmt.Sprintf("i/o error: %s: %v", e.Path, e.Err)
}

func (e *Io) Unwrap() error { return e.Err }

func NewIo(path string, err error) error { return &Io{Path: path, Err: err} }

// Timeout wraps the cause of an Io error that was in fact a deadline
// exceeded while waiting on the peer (spec.md §5), rather than a hard
// transport failure.
type Timeout struct {
	Err error
}

func (e *Timeout) Error() string {
	if e.Err == nil {
		return "timeout"
	}
	return "timeout: " + e.Err.Error()
}

func (e *Timeout) Unwrap() error { return e.Err }

// NewIoTimeout builds an Io error whose cause is a Timeout wrapping err.
func NewIoTimeout(err error) error { return &Io{Err: &Timeout{Err: err}} }
