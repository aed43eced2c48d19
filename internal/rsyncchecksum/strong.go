package rsyncchecksum

import (
	"crypto/md5"
	"encoding/binary"
	"hash"
)

// MaxDigestLength is the width of a full MD5 digest; StrongDigest never
// returns more than this, and digest-length negotiation never asks for
// more (spec.md §4.3, MAX_DIGEST=16).
const MaxDigestLength = 16

// MinDigestLength is the narrowest digest length the block-match policy
// will ever negotiate down to (spec.md §4.3, MIN_DIGEST=2).
const MinDigestLength = 2

// StrongDigest returns the full 16-byte MD5 of (seed || block), the
// per-block confirmation digest used once a rolling checksum hits
// (spec.md §4.3). Callers truncate to the negotiated digestLength
// themselves.
func StrongDigest(seed int32, block []byte) [md5.Size]byte {
	h := md5.New()
	writeSeed(h, seed)
	h.Write(block)
	var sum [md5.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// StrongDigestN returns StrongDigest truncated to n bytes, as transmitted
// in a checksum header entry.
func StrongDigestN(seed int32, block []byte, n int32) []byte {
	sum := StrongDigest(seed, block)
	return sum[:n]
}

func writeSeed(h hash.Hash, seed int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(seed))
	h.Write(buf[:])
}

// FileDigest accumulates the whole-file MD5 of (seed || file-bytes),
// transmitted by the Sender at end-of-file (spec.md §4.6 step 5) and
// verified by the Receiver against its own accumulation of the
// reconstructed bytes (spec.md §4.8 step 3).
type FileDigest struct {
	h hash.Hash
}

// NewFileDigest starts a whole-file digest seeded for the session.
func NewFileDigest(seed int32) *FileDigest {
	h := md5.New()
	writeSeed(h, seed)
	return &FileDigest{h: h}
}

func (f *FileDigest) Write(p []byte) (int, error) { return f.h.Write(p) }

// Sum returns the final 16-byte digest.
func (f *FileDigest) Sum() [md5.Size]byte {
	var sum [md5.Size]byte
	copy(sum[:], f.h.Sum(nil))
	return sum
}
