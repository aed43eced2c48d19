package filelist

import (
	"encoding/binary"
	"io"

	"github.com/zrsync/rrsync/internal/rsyncerr"
)

// Index codec (spec.md §4.2): file-list indices are signed int32
// transmitted as a variable-length delta from a running "previous index",
// maintained separately per direction by the caller.
//
// Byte layout:
//
//	0x00                              -> i == 0 (the DONE sentinel)
//	0x01-0x7D / 0x81-0xFD             -> 1-byte form: magnitude = b&0x7F - 1 (0..124), sign = b&0x80
//	0x7E / 0xFE                       -> 2-byte magnitude follows (little-endian uint16), sign = b&0x80
//	0xFF                               -> 4-byte raw little-endian absolute index follows
const (
	tagDone    = 0x00
	tagEscape2 = 0x7E
	tagEscape4 = 0xFF

	smallMagMax = 124 // largest magnitude the 1-byte form can carry
)

// EncodeIndex encodes i as a delta from prev, in the variable-length form
// described above.
func EncodeIndex(prev, i int32) []byte {
	if i == 0 {
		return []byte{tagDone}
	}
	diff := int64(i) - int64(prev)
	neg := diff < 0
	mag := diff
	if neg {
		mag = -mag
	}
	switch {
	case mag <= smallMagMax:
		b := byte(mag + 1)
		if neg {
			b |= 0x80
		}
		return []byte{b}
	case mag <= 0xFFFF:
		b := byte(tagEscape2)
		if neg {
			b |= 0x80
		}
		var m [2]byte
		binary.LittleEndian.PutUint16(m[:], uint16(mag))
		return []byte{b, m[0], m[1]}
	default:
		var buf [5]byte
		buf[0] = tagEscape4
		binary.LittleEndian.PutUint32(buf[1:], uint32(i))
		return buf[:]
	}
}

// DecodeIndex reads one variable-length index from r and returns the
// decoded value given the same running prev the encoder used.
func DecodeIndex(r io.Reader, prev int32) (int32, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	switch {
	case b[0] == tagDone:
		return 0, nil
	case b[0] == tagEscape4:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return int32(binary.LittleEndian.Uint32(buf[:])), nil
	case b[0]&0x7F == tagEscape2:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		mag := int64(binary.LittleEndian.Uint16(buf[:]))
		if b[0]&0x80 != 0 {
			mag = -mag
		}
		return int32(int64(prev) + mag), nil
	default:
		mag := int64(b[0]&0x7F) - 1
		if mag < 0 {
			return 0, rsyncerr.NewProtocolError("index codec: impossible 1-byte magnitude %#x", b[0])
		}
		if b[0]&0x80 != 0 {
			mag = -mag
		}
		return int32(int64(prev) + mag), nil
	}
}
