// Package rsyncchecksum implements the checksum primitives from spec.md
// §4.3: the rolling (Adler-like) weak checksum used to find candidate
// block boundaries in O(1) per byte slid, the MD5 strong digest used to
// confirm a rolling hit, and the block-size/digest-length policy that
// derives both from a file's size.
package rsyncchecksum

// Rolling computes the two-term weak checksum over a sliding window of
// fixed length n:
//
//	s1 = (Σ b[i]) mod 2^16
//	s2 = (Σ (n-i)·b[i]) mod 2^16
//
// packed as rolling = (s2<<16) | s1. The session checksum seed is not
// folded into the weak sum (only the strong digest uses it, spec.md
// §4.3) — this matches the reference's own get_checksum1, which the
// weak checksum serves only to find candidate block boundaries for.
//
// Roll updates the running sums in O(1) as the window advances by one
// byte, matching a fresh Sum of the new window (spec.md §8 property
// "incremental roll(out, in) equals a fresh compute after the same
// slide").
type Rolling struct {
	n  uint32
	s1 uint32
	s2 uint32
}

// NewRolling computes the weak checksum of window from scratch.
func NewRolling(window []byte) *Rolling {
	s1, s2 := compute(window)
	return &Rolling{n: uint32(len(window)), s1: s1, s2: s2}
}

func compute(window []byte) (s1, s2 uint32) {
	for i, b := range window {
		s1 += uint32(b)
		s2 += uint32(len(window)-i) * uint32(b)
	}
	return s1, s2
}

// Sum returns the packed 32-bit weak checksum: s1 in the low 16 bits, s2 in
// the high 16 bits.
func (r *Rolling) Sum() uint32 {
	return (r.s1 & 0xffff) | (r.s2 << 16)
}

// Roll slides the window forward by one byte: out leaves the window at the
// low end, in joins it at the high end. The window length is unchanged.
func (r *Rolling) Roll(out, in byte) {
	r.s1 = r.s1 - uint32(out) + uint32(in)
	r.s2 = r.s2 - r.n*uint32(out) + r.s1
}

// Sum32 computes the packed weak checksum of window directly, without
// constructing a Rolling — used by the Generator to emit a file's block
// checksum table where no incremental update is needed.
func Sum32(window []byte) uint32 {
	s1, s2 := compute(window)
	return (s1 & 0xffff) | (s2 << 16)
}
