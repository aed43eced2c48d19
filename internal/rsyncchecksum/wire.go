package rsyncchecksum

import "github.com/zrsync/rrsync/internal/rsyncwire"

// WriteTo serializes the checksum header (spec.md §4.7, "emit checksum
// header") as four little-endian int32 fields, in the same field order as
// the struct itself.
func (s SumHead) WriteTo(c *rsyncwire.Conn) error {
	if err := c.WriteInt32(s.ChunkCount); err != nil {
		return err
	}
	if err := c.WriteInt32(s.BlockLength); err != nil {
		return err
	}
	if err := c.WriteInt32(s.DigestLength); err != nil {
		return err
	}
	return c.WriteInt32(s.RemainderLength)
}

// ReadSumHead reads back what WriteTo wrote.
func ReadSumHead(c *rsyncwire.Conn) (SumHead, error) {
	var s SumHead
	var err error
	if s.ChunkCount, err = c.ReadInt32(); err != nil {
		return SumHead{}, err
	}
	if s.BlockLength, err = c.ReadInt32(); err != nil {
		return SumHead{}, err
	}
	if s.DigestLength, err = c.ReadInt32(); err != nil {
		return SumHead{}, err
	}
	if s.RemainderLength, err = c.ReadInt32(); err != nil {
		return SumHead{}, err
	}
	return s, nil
}

// Window returns the length in bytes of block index i (0-based among the
// Windows() total transmitted entries): BlockLength for every full block,
// or RemainderLength for the final short block when present.
func (s SumHead) Window(i int32) int32 {
	if i == s.ChunkCount && s.RemainderLength > 0 {
		return s.RemainderLength
	}
	return s.BlockLength
}

// BlockSum is one entry of the block checksum table sent after a SumHead
// (spec.md §4.3/§4.7): "(rolling:int32, strong:bytes[digestLength])".
type BlockSum struct {
	Index  int32
	Weak   uint32
	Strong []byte
}

// WriteChecksumTable writes every entry of sums in order. Callers pass one
// BlockSum per window of the file (SumHead.Windows() entries, ascending
// index), which is what ReadChecksumTable reads back.
func WriteChecksumTable(c *rsyncwire.Conn, sums []BlockSum) error {
	for _, bs := range sums {
		if err := c.WriteInt32(int32(bs.Weak)); err != nil {
			return err
		}
		if err := c.Write(bs.Strong); err != nil {
			return err
		}
	}
	return nil
}

// ReadChecksumTable reads back s.Windows() BlockSum entries written by
// WriteChecksumTable.
func ReadChecksumTable(c *rsyncwire.Conn, s SumHead) ([]BlockSum, error) {
	n := s.Windows()
	sums := make([]BlockSum, 0, n)
	for i := int32(0); i < n; i++ {
		weak, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		strong, err := c.ReadN(int(s.DigestLength))
		if err != nil {
			return nil, err
		}
		sums = append(sums, BlockSum{Index: i, Weak: uint32(weak), Strong: strong})
	}
	return sums, nil
}
