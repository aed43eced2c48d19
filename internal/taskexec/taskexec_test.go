package taskexec_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncopts"
	"github.com/zrsync/rrsync/internal/rsynctest"
	"github.com/zrsync/rrsync/internal/taskexec"
	"github.com/zrsync/rrsync/rsync"
)

// TestRunLocalCopy exercises the Sender/Generator/Receiver triple
// together over the in-memory pipes a local-copy transfer wires up,
// without any network or subprocess involved.
func TestRunLocalCopy(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dest := filepath.Join(tmp, "dest")
	rsynctest.WriteTree(t, src, []rsynctest.File{
		{Path: "hello", Content: "world"},
		{Path: "nested/deeper", Content: "deep content"},
	})

	opts := rsyncopts.Options{
		FileSelection: rsync.FileSelectionRecurse,
		PreservePerms: true,
		PreserveTimes: true,
	}
	result, err := taskexec.RunLocalCopy(t.Context(), []string{src}, dest, opts, 0, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if result.SenderStats == nil || result.ReceiverStats == nil {
		t.Fatalf("expected both stats to be populated, got %+v", result)
	}

	if got := rsynctest.ReadFile(t, dest, "hello"); !bytes.Equal(got, []byte("world")) {
		t.Errorf("hello: got %q, want %q", got, "world")
	}
	if got := rsynctest.ReadFile(t, dest, "nested/deeper"); !bytes.Equal(got, []byte("deep content")) {
		t.Errorf("nested/deeper: got %q, want %q", got, "deep content")
	}
}

// TestRunLocalCopyIdempotent re-runs the same copy and expects the second
// pass to find everything already matching, transferring no literal data.
func TestRunLocalCopyIdempotent(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dest := filepath.Join(tmp, "dest")
	rsynctest.WriteTree(t, src, []rsynctest.File{{Path: "hello", Content: "world"}})

	opts := rsyncopts.Options{FileSelection: rsync.FileSelectionRecurse, PreservePerms: true, PreserveTimes: true}
	if _, err := taskexec.RunLocalCopy(t.Context(), []string{src}, dest, opts, 0, log.Discard()); err != nil {
		t.Fatal(err)
	}
	result, err := taskexec.RunLocalCopy(t.Context(), []string{src}, dest, opts, 0, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if result.ReceiverStats.TotalLiteralSize != 0 {
		t.Errorf("second pass TotalLiteralSize = %d, want 0 (unchanged file should match entirely)", result.ReceiverStats.TotalLiteralSize)
	}
}
