// Package rsyncstats defines the TransferStats counters that spec.md §4.8
// says the Receiver must update and that --stats prints (spec.md §7,
// "User-visible behavior").
package rsyncstats

import "time"

// TransferStats accumulates the counters spec.md §4.8 names, plus the
// three wire-reported totals (Read, Written, Size) rsync's
// receiver/do.go report() function reads back from the remote peer at
// end-of-transfer.
type TransferStats struct {
	NumFiles             int64
	NumTransferredFiles  int64
	TotalFileListSize    int64
	TotalTransferredSize int64
	TotalLiteralSize     int64
	TotalMatchedSize     int64
	TotalFileSize        int64
	TotalBytesRead       int64
	TotalBytesWritten    int64
	FileListBuildTime    time.Duration
	FileListTransferTime time.Duration

	// Read, Written and Size are the three int64s the remote peer sends
	// at end-of-transfer (spec.md's external wire contract), layered on
	// top of our own locally-tracked TotalBytesRead/TotalBytesWritten/
	// TotalFileSize so that a pure client role can still report the
	// numbers the peer computed.
	Read    int64
	Written int64
	Size    int64

	// IOErrors counts ERROR/ERROR_XFER/ERROR_SOCKET/ERROR_UTF8 messages
	// the peer sent out-of-band (spec.md §7), tracked separately from
	// NumFiles so a transfer that otherwise completes can still report
	// how many files the peer itself failed to read.
	IOErrors int64
}

// AddFile folds a processed file's size into the running totals. literal
// and matched are the bytes emitted as literal tokens vs. matched against
// a basis block; transferred reports whether the file's content actually
// moved over the wire (as opposed to being skipped unchanged).
func (s *TransferStats) AddFile(size int64, literal, matched int64, transferred bool) {
	s.NumFiles++
	s.TotalFileSize += size
	if transferred {
		s.NumTransferredFiles++
		s.TotalTransferredSize += size
		s.TotalLiteralSize += literal
		s.TotalMatchedSize += matched
	}
}
