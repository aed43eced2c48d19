package rsyncchecksum

import (
	"math"

	"github.com/zrsync/rrsync/internal/rsyncerr"
)

// MinBlockLength is the floor of the block-size policy (spec.md §4.3,
// §9 item 2: "this spec pins the max(MIN_BLOCK_SIZE=512, pow2_floor(sqrt(size)))
// formula").
const MinBlockLength = 512

// BlockLength derives the checksum block size for a file of the given
// size: max(512, pow2_floor(sqrt(fileSize))), or 0 for an empty file
// (spec.md §4.3).
func BlockLength(fileSize int64) int32 {
	if fileSize == 0 {
		return 0
	}
	b := pow2Floor(math.Sqrt(float64(fileSize)))
	if b < MinBlockLength {
		return MinBlockLength
	}
	return b
}

// pow2Floor returns the largest power of two <= x, or 1 if x < 1.
func pow2Floor(x float64) int32 {
	if x < 1 {
		return 1
	}
	return int32(1) << uint(math.Floor(math.Log2(x)))
}

// DigestLength derives the strong-checksum truncation length for a file of
// the given size and block length (spec.md §4.3):
//
//	clamp( ((10 + 2*log2(fileSize) - log2(blockLength)) - 24)/8, MIN_DIGEST, MAX_DIGEST )
//
// forceMax overrides the computed length with MaxDigestLength, used by the
// Generator when it demands stricter verification (spec.md §4.3, "Generator
// may force MAX_DIGEST when it demands stricter verification").
func DigestLength(fileSize int64, blockLength int32, forceMax bool) int32 {
	if forceMax {
		return MaxDigestLength
	}
	if blockLength == 0 || fileSize == 0 {
		return MinDigestLength
	}
	d := (10 + 2*math.Log2(float64(fileSize)) - math.Log2(float64(blockLength)) - 24) / 8
	length := int32(math.Ceil(d))
	if length < MinDigestLength {
		return MinDigestLength
	}
	if length > MaxDigestLength {
		return MaxDigestLength
	}
	return length
}

// SumHead is the checksum header transmitted before a file's block
// checksum table (spec.md §4.2 Data Model, "Checksum header"):
// ChunkCount * BlockLength + RemainderLength == fileSize. ChunkCount counts
// only full-length blocks; when RemainderLength is nonzero, one additional
// short block of that many bytes follows as the file's final window, so the
// checksum table actually transmitted has ChunkCount+1 entries in that case.
type SumHead struct {
	ChunkCount      int32
	BlockLength     int32
	DigestLength    int32
	RemainderLength int32
}

// Windows returns the total number of checksum-table entries implied by
// this header: the full blocks plus, if present, the trailing short block.
func (s SumHead) Windows() int32 {
	if s.RemainderLength > 0 {
		return s.ChunkCount + 1
	}
	return s.ChunkCount
}

// MaxChunkCount is the largest chunk count addressable by a signed 32-bit
// block index (spec.md §7, ChunkOverflow).
const MaxChunkCount = 1<<31 - 1

// NewSumHead derives a checksum header for a file of the given size, or
// reports ChunkOverflow if the resulting window count would not fit in a
// signed 32-bit index — the caller then falls back to a zeroed header
// (spec.md §7).
func NewSumHead(fileSize int64, forceMaxDigest bool) (SumHead, error) {
	bl := BlockLength(fileSize)
	if bl == 0 {
		return SumHead{}, nil
	}
	count := fileSize / int64(bl)
	remainder := int32(fileSize % int64(bl))
	windows := count
	if remainder != 0 {
		windows++
	}
	if windows > MaxChunkCount {
		return SumHead{}, &rsyncerr.ChunkOverflow{Size: fileSize}
	}
	return SumHead{
		ChunkCount:      int32(count),
		BlockLength:     bl,
		DigestLength:    DigestLength(fileSize, bl, forceMaxDigest),
		RemainderLength: remainder,
	}, nil
}
