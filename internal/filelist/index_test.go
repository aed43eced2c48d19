package filelist

import (
	"bytes"
	"math"
	"testing"
)

func TestIndexRoundTrip(t *testing.T) {
	prevs := []int32{0, 1, -1, 1000, math.MinInt32, math.MaxInt32}
	values := []int32{0, 1, -1, 124, 125, 126, 65535, 65536, -65536, math.MaxInt32, math.MinInt32, 42}
	for _, prev := range prevs {
		for _, v := range values {
			enc := EncodeIndex(prev, v)
			got, err := DecodeIndex(bytes.NewReader(enc), prev)
			if err != nil {
				t.Fatalf("DecodeIndex(Encode(%d, %d)) errored: %v", prev, v, err)
			}
			if got != v {
				t.Errorf("prev=%d v=%d: round trip got %d (encoded %x)", prev, v, got, enc)
			}
		}
	}
}

func TestIndexDoneIsSingleZeroByte(t *testing.T) {
	enc := EncodeIndex(12345, 0)
	if !bytes.Equal(enc, []byte{0}) {
		t.Errorf("EncodeIndex(_, 0) = %x, want [0]", enc)
	}
}

func TestIndexFullEscapeShape(t *testing.T) {
	enc := EncodeIndex(0, math.MaxInt32)
	if len(enc) != 5 || enc[0] != 0xFF {
		t.Errorf("EncodeIndex for a huge diff = %x, want 5-byte 0xFF-prefixed escape", enc)
	}
}
