package rsyncchecksum

import (
	"bytes"
	"testing"
)

func TestRollMatchesFreshCompute(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 4)
	const n = 16

	r := NewRolling(data[:n])
	for start := 0; start+n+1 <= len(data); start++ {
		out, in := data[start], data[start+n]
		r.Roll(out, in)
		want := Sum32(data[start+1 : start+1+n])
		if got := r.Sum(); got != want {
			t.Fatalf("at start=%d: Roll gave %#x, fresh compute gave %#x", start+1, got, want)
		}
	}
}

func TestStrongDigestDeterministic(t *testing.T) {
	a := StrongDigest(42, []byte("hello world"))
	b := StrongDigest(42, []byte("hello world"))
	if a != b {
		t.Fatalf("StrongDigest not deterministic: %x != %x", a, b)
	}
	c := StrongDigest(43, []byte("hello world"))
	if a == c {
		t.Fatalf("StrongDigest ignored seed")
	}
}

func TestBlockLength(t *testing.T) {
	cases := []struct {
		size int64
		want int32
	}{
		{0, 0},
		{1, 512},
		{1000, 512},
		{1 << 20, 1024},
		{4096 * 4096, 4096},
	}
	for _, c := range cases {
		if got := BlockLength(c.size); got != c.want {
			t.Errorf("BlockLength(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestDigestLengthClampedToRange(t *testing.T) {
	for _, size := range []int64{1, 512, 4096, 1 << 30} {
		bl := BlockLength(size)
		d := DigestLength(size, bl, false)
		if d < MinDigestLength || d > MaxDigestLength {
			t.Errorf("DigestLength(%d, %d) = %d, out of [%d,%d]", size, bl, d, MinDigestLength, MaxDigestLength)
		}
	}
	if d := DigestLength(1<<30, BlockLength(1<<30), true); d != MaxDigestLength {
		t.Errorf("forceMax DigestLength = %d, want %d", d, MaxDigestLength)
	}
}

func TestNewSumHeadInvariant(t *testing.T) {
	const size = 4096 + 137
	sh, err := NewSumHead(size, false)
	if err != nil {
		t.Fatal(err)
	}
	total := int64(sh.ChunkCount)*int64(sh.BlockLength) + int64(sh.RemainderLength)
	if total != size {
		t.Errorf("chunkCount*blockLength+remainder mismatch: got %d, want %d (chunkCount=%d blockLength=%d remainder=%d)",
			total, size, sh.ChunkCount, sh.BlockLength, sh.RemainderLength)
	}
	if sh.RemainderLength == 0 {
		t.Fatalf("test fixture expected a nonzero remainder for size=%d blockLength=%d", size, sh.BlockLength)
	}
	if sh.Windows() != sh.ChunkCount+1 {
		t.Errorf("Windows() = %d, want %d", sh.Windows(), sh.ChunkCount+1)
	}
}
