package rsyncstats

import "testing"

func TestAddFileUnchanged(t *testing.T) {
	var s TransferStats
	s.AddFile(4096, 0, 0, false)
	if s.NumFiles != 1 {
		t.Errorf("NumFiles = %d, want 1", s.NumFiles)
	}
	if s.NumTransferredFiles != 0 || s.TotalTransferredSize != 0 {
		t.Errorf("unchanged file should not count as transferred: %+v", s)
	}
	if s.TotalFileSize != 4096 {
		t.Errorf("TotalFileSize = %d, want 4096", s.TotalFileSize)
	}
}

func TestAddFileTransferred(t *testing.T) {
	var s TransferStats
	s.AddFile(4096, 512, 3584, true)
	if s.NumTransferredFiles != 1 {
		t.Errorf("NumTransferredFiles = %d, want 1", s.NumTransferredFiles)
	}
	if s.TotalLiteralSize != 512 || s.TotalMatchedSize != 3584 {
		t.Errorf("literal/matched totals wrong: %+v", s)
	}
}
