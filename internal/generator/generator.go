// Package generator implements the Generator role from spec.md §4.7: for
// each file the Sender listed, compare local state, request a transfer
// from the Sender when needed, and hand the Receiver a job describing how
// to reconstruct it. Non-regular files (directories, symlinks) are applied
// directly by the Generator since they never need a token stream.
//
// Grounded on rsync's receiver/generatoruid.go and
// receiver/generatorsymlink.go (uid/gid authorization rule, atomic
// symlink replace via renameio), adapted onto the new filelist/rsyncwire/
// rsyncchecksum packages and split out of rsync's combined
// Transfer struct into its own role type per spec.md's 3-role model.
package generator

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/zrsync/rrsync/internal/filelist"
	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncchecksum"
	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncopts"
	"github.com/zrsync/rrsync/internal/rsyncstats"
	"github.com/zrsync/rrsync/internal/rsyncwire"
	"github.com/zrsync/rrsync/rsync"
)

// Job is one unit of reconstruction work handed from the Generator to the
// Receiver: file f at global index needs its token stream consumed and
// reconstructed at Dest. SumHead and Basis are exactly what the Generator
// computed and sent to the Sender for this request — the Receiver needs
// them too, to turn a negative match token back into a basis-file
// offset/length (spec.md §4.8 step 3) without re-deriving anything.
type Job struct {
	Index int32
	File  *filelist.FileInfo
	Dest  string
	Basis string
	SumHead rsyncchecksum.SumHead
}

// Ack is the Receiver's verdict on one Job, sent back to the Generator
// over Acks. Redo requests a retry (spec.md §4.8 step 5: "send REDO
// <file-index> ... sender may retransmit"); since Generator and Receiver
// are co-located roles here, the retransmit request is this in-process
// round trip rather than a wire REDO message, and Generator drives the
// next request itself instead of waiting on one from the Sender.
type Ack struct {
	Index int32
	Redo  bool
	Err   error
}

// maxRedoAttempts bounds digest-mismatch retries (spec.md §4.8 step 5,
// "after 2 failed attempts, report ErrorXfer").
const maxRedoAttempts = 2

// Generator drives the Generator role. Conn carries requests (index +
// checksum header/table) to the Sender; Jobs/Acks form an in-process
// handoff to the Receiver goroutine sharing List — the two tasks run in
// the same process, so a Go channel pair plays the role spec.md §5
// describes for the Generator's job queue and the Receiver's completion
// report, rather than a second wire link. Generator waits for each Job's
// Ack before moving to the next file list entry: a deliberate
// simplification (see DESIGN.md) that trades cross-file pipelining for a
// Conn that only one goroutine ever writes to, which makes the REDO retry
// loop race-free without extra locking.
type Generator struct {
	Conn   *rsyncwire.Conn
	Dest   string
	Opts   rsyncopts.Options
	Logger *log.Logger
	Jobs   chan<- Job
	Acks   <-chan Ack

	List  *filelist.List
	Stats *rsyncstats.TransferStats

	// NoSend delivers a file-list index the peer reported it could not
	// read (spec.md §9 Open Question 1), wired from the session layer's
	// MessageSink.OnNoSend once a remote transfer's handshake has
	// completed. Left nil, requestTransfer simply never selects it.
	NoSend chan int32

	deferred []func() error // LIFO queue of directory attribute fix-ups

	// linkTargets maps every processed entry's index to the local path it
	// landed at, so a later KindHardLink entry can resolve its
	// TargetIndex (spec.md §3, "the file-list index of the first
	// occurrence of this inode") without re-querying the file list, which
	// finishNoTransfer/requestTransfer have already removed the entry
	// from by the time that later entry arrives.
	linkTargets map[int32]string
}

// Run reads the Sender's file list, rebuilds it as one flat segment (the
// wire format carries no directory-boundary markers; see DESIGN.md),
// processes every entry per spec.md §4.7's per-file algorithm, then closes
// Jobs and flushes deferred attribute updates.
func (g *Generator) Run() error {
	defer close(g.Jobs)

	entries, err := g.readFileList()
	if err != nil {
		return err
	}

	if g.Opts.Delete {
		if err := g.deleteExtraneous(entries); err != nil {
			return err
		}
	}

	g.linkTargets = make(map[int32]string, len(entries))
	g.List = filelist.NewList()
	g.List.AppendSegment(filelist.InitialDirectoryIndex, nil, entries)

	var prevIdx int32
	err = g.List.EachInOrder(func(idx int32, f *filelist.FileInfo) error {
		g.Stats.TotalFileListSize += int64(len(f.WireName))
		return g.processEntry(idx, f, &prevIdx)
	})
	if err != nil {
		return err
	}

	if err := g.Conn.Write(filelist.EncodeIndex(prevIdx, 0)); err != nil {
		return err
	}
	if err := g.Conn.Flush(); err != nil {
		return err
	}

	return g.flushDeferred()
}

func (g *Generator) readFileList() ([]*filelist.FileInfo, error) {
	var entries []*filelist.FileInfo
	var prev filelist.XMITState
	for {
		f, next, done, err := filelist.ReadEntry(g.Conn, prev)
		if err != nil {
			return nil, err
		}
		if done {
			return entries, nil
		}
		prev = next
		entries = append(entries, f)
	}
}

// deleteExtraneous removes every destination path not named by entries or
// one of their ancestor directories (spec.md §4.7 "Deletion": "listing the
// destination directory, computing extraneous = local - sender, unlinking
// each"). Runs once, up front, before any entry is itemized, so a file the
// sender renamed this run is never deleted out from under its own
// recreation. A first sync against a destination that doesn't exist yet
// is a no-op.
func (g *Generator) deleteExtraneous(entries []*filelist.FileInfo) error {
	if _, err := os.Lstat(g.Dest); os.IsNotExist(err) {
		return nil
	}

	keep := make(map[string]bool, len(entries)*2)
	for _, f := range entries {
		for p := f.Name; p != "." && p != string(filepath.Separator) && p != ""; {
			keep[p] = true
			parent := filepath.Dir(p)
			if parent == p {
				break
			}
			p = parent
		}
	}

	var extraneous []string
	err := filepath.WalkDir(g.Dest, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == g.Dest {
			return nil
		}
		rel, err := filepath.Rel(g.Dest, path)
		if err != nil {
			return err
		}
		if !keep[rel] {
			extraneous = append(extraneous, path)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return rsyncerr.NewErrorXfer(g.Dest, err)
	}

	for _, path := range extraneous {
		g.logf("deleting %s", path)
		if g.Opts.DryRun {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return rsyncerr.NewErrorXfer(path, err)
		}
	}
	return nil
}

// processEntry implements spec.md §4.7's per-file algorithm.
func (g *Generator) processEntry(idx int32, f *filelist.FileInfo, prevIdx *int32) error {
	local := filepath.Join(g.Dest, f.Name)
	g.linkTargets[idx] = local
	st, statErr := os.Lstat(local)

	switch {
	case os.IsNotExist(statErr):
		return g.handleMissing(idx, f, local, prevIdx)
	case statErr != nil:
		return rsyncerr.NewErrorXfer(local, statErr)
	case kindOf(st) != f.Kind:
		if err := os.RemoveAll(local); err != nil {
			return rsyncerr.NewErrorXfer(local, err)
		}
		return g.handleMissing(idx, f, local, prevIdx)
	default:
		return g.handleExisting(idx, f, local, st, prevIdx)
	}
}

func (g *Generator) handleMissing(idx int32, f *filelist.FileInfo, local string, prevIdx *int32) error {
	switch f.Kind {
	case filelist.KindDirectory:
		if !g.Opts.DryRun {
			if err := os.MkdirAll(local, 0o755); err != nil {
				return rsyncerr.NewErrorXfer(local, err)
			}
		}
		g.reportItemize(f.Name, true, false)
		g.deferAttrs(f, local)
		g.finishNoTransfer(idx, f)
		return nil
	case filelist.KindSymlink:
		if !g.Opts.DryRun && g.Opts.PreserveLinks {
			if err := symlinkAtomic(f.Target, local); err != nil {
				return rsyncerr.NewErrorXfer(local, err)
			}
		}
		g.reportItemize(f.Name, true, false)
		g.finishNoTransfer(idx, f)
		return nil
	case filelist.KindDevice, filelist.KindSpecial:
		if g.Opts.PreserveDevices || g.Opts.PreserveSpecials {
			return rsyncerr.NewErrorXfer(local, rsyncerr.NewProtocolError("device/special file creation is not implemented"))
		}
		g.finishNoTransfer(idx, f)
		return nil
	case filelist.KindHardLink:
		return g.handleHardLink(idx, f, local, prevIdx)
	default:
		g.reportItemize(f.Name, true, true)
		return g.requestTransfer(idx, f, "", prevIdx)
	}
}

// handleHardLink materializes a KindHardLink entry by linking local to the
// on-disk path already recorded for its TargetIndex peer (spec.md §3: a
// hard-link entry's target is always a previously-seen regular-file entry
// in file-list order, so linkTargets already has it). Falls back to a full
// regular-file transfer when hard-link preservation wasn't requested,
// since the peer never sends a second copy of the data once
// PreserveHardLinks is negotiated off.
func (g *Generator) handleHardLink(idx int32, f *filelist.FileInfo, local string, prevIdx *int32) error {
	if !g.Opts.PreserveHardLinks {
		g.reportItemize(f.Name, true, true)
		return g.requestTransfer(idx, f, "", prevIdx)
	}
	target, ok := g.linkTargets[f.TargetIndex]
	if !ok {
		return rsyncerr.NewErrorXfer(local, rsyncerr.NewProtocolError("hard-link target index %d not seen before index %d", f.TargetIndex, idx))
	}
	if !g.Opts.DryRun {
		if err := os.Link(target, local); err != nil {
			return rsyncerr.NewErrorXfer(local, err)
		}
	}
	g.reportItemize(f.Name, true, false)
	g.finishNoTransfer(idx, f)
	return nil
}

// finishNoTransfer records a file processed without involving the
// Receiver (directory, symlink, or an unchanged regular file) and removes
// it from its segment immediately, since no Job is outstanding for it.
func (g *Generator) finishNoTransfer(idx int32, f *filelist.FileInfo) {
	g.Stats.AddFile(int64(f.Attrs.Size), 0, 0, false)
	g.List.GetSegmentWith(idx).Remove(idx)
}

func (g *Generator) handleExisting(idx int32, f *filelist.FileInfo, local string, st os.FileInfo, prevIdx *int32) error {
	switch f.Kind {
	case filelist.KindDirectory:
		g.reportItemize(f.Name, false, false)
		g.deferAttrs(f, local)
		g.finishNoTransfer(idx, f)
		return nil
	case filelist.KindSymlink:
		target, err := os.Readlink(local)
		if err != nil {
			return rsyncerr.NewErrorXfer(local, err)
		}
		changed := target != f.Target
		if changed && g.Opts.PreserveLinks {
			if !g.Opts.DryRun {
				if err := symlinkAtomic(f.Target, local); err != nil {
					return rsyncerr.NewErrorXfer(local, err)
				}
			}
		}
		g.reportItemize(f.Name, false, false)
		g.finishNoTransfer(idx, f)
		return nil
	}

	modified := uint64(st.Size()) != f.Attrs.Size || st.ModTime().Unix() != f.Attrs.ModTime || g.Opts.IgnoreTimes
	if modified {
		g.reportItemize(f.Name, false, true)
		return g.requestTransfer(idx, f, local, prevIdx)
	}

	// Unchanged: still fix up attributes that drifted (permissions,
	// ownership) without re-transferring content.
	g.reportItemize(f.Name, false, false)
	g.deferAttrs(f, local)
	g.finishNoTransfer(idx, f)
	return nil
}

// requestTransfer emits the checksum header/table the Sender needs,
// enqueues a reconstruction Job for the Receiver, then blocks for the
// matching Ack, retrying on a Redo verdict up to maxRedoAttempts (spec.md
// §4.8 step 5). basis is the existing local file to diff against, or ""
// for a brand-new file (spec.md §4.7 step 3, "If absent: ... a zero
// checksum header").
func (g *Generator) requestTransfer(idx int32, f *filelist.FileInfo, basis string, prevIdx *int32) error {
	for attempt := 1; ; attempt++ {
		sh, err := g.emitRequest(idx, f, basis, prevIdx)
		if err != nil {
			return err
		}
		g.Jobs <- Job{Index: idx, File: f, Dest: filepath.Join(g.Dest, f.Name), Basis: basis, SumHead: sh}

		redo, err := g.awaitOutcome(idx, f, attempt)
		if err != nil {
			return err
		}
		if !redo {
			g.List.GetSegmentWith(idx).Remove(idx)
			return nil
		}
	}
}

// awaitOutcome blocks for either the Receiver's Ack or a NO_SEND naming
// idx (spec.md §9 Open Question 1), whichever the peer sends first; redo
// is true only when the Receiver asked for a digest-mismatch retry.
func (g *Generator) awaitOutcome(idx int32, f *filelist.FileInfo, attempt int) (redo bool, err error) {
	for {
		select {
		case ack := <-g.Acks:
			if !ack.Redo {
				return false, ack.Err
			}
			if attempt >= maxRedoAttempts {
				return false, rsyncerr.NewErrorXfer(f.Name, ack.Err)
			}
			g.logf("retransmitting %s after digest mismatch (attempt %d)", f.Name, attempt+1)
			return true, nil
		case dropIdx := <-g.NoSend:
			if dropIdx != idx {
				g.logf("NO_SEND for unexpected index %d while awaiting %d, ignoring", dropIdx, idx)
				continue
			}
			g.logf("dropping %s: peer could not read it (NO_SEND)", f.Name)
			g.finishNoTransfer(idx, f)
			return false, nil
		}
	}
}

// emitRequest writes one checksum header/table request for idx onto Conn,
// returning the header so the caller can pass it on to the Receiver.
func (g *Generator) emitRequest(idx int32, f *filelist.FileInfo, basis string, prevIdx *int32) (rsyncchecksum.SumHead, error) {
	var sh rsyncchecksum.SumHead
	var sums []rsyncchecksum.BlockSum

	if basis != "" {
		var err error
		sh, sums, err = g.checksumBasis(basis)
		if err != nil {
			return rsyncchecksum.SumHead{}, err
		}
	}

	if err := g.Conn.Write(filelist.EncodeIndex(*prevIdx, idx)); err != nil {
		return rsyncchecksum.SumHead{}, err
	}
	*prevIdx = idx
	if err := sh.WriteTo(g.Conn); err != nil {
		return rsyncchecksum.SumHead{}, err
	}
	if err := rsyncchecksum.WriteChecksumTable(g.Conn, sums); err != nil {
		return rsyncchecksum.SumHead{}, err
	}
	if err := g.Conn.Flush(); err != nil {
		return rsyncchecksum.SumHead{}, err
	}
	return sh, nil
}

func (g *Generator) checksumBasis(path string) (rsyncchecksum.SumHead, []rsyncchecksum.BlockSum, error) {
	f, err := os.Open(path)
	if err != nil {
		return rsyncchecksum.SumHead{}, nil, rsyncerr.NewErrorXfer(path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return rsyncchecksum.SumHead{}, nil, rsyncerr.NewErrorXfer(path, err)
	}

	sh, err := rsyncchecksum.NewSumHead(st.Size(), false)
	if err != nil {
		var overflow *rsyncerr.ChunkOverflow
		if errors.As(err, &overflow) {
			// Falls back to a zeroed checksum header (spec.md §7): the
			// whole file is sent as one literal run instead.
			return rsyncchecksum.SumHead{}, nil, nil
		}
		return rsyncchecksum.SumHead{}, nil, err
	}
	if sh.BlockLength == 0 {
		return sh, nil, nil
	}

	sums := make([]rsyncchecksum.BlockSum, 0, sh.Windows())
	buf := make([]byte, sh.BlockLength)
	for i := int32(0); i < sh.Windows(); i++ {
		window := buf[:sh.Window(i)]
		if _, err := io.ReadFull(f, window); err != nil {
			return rsyncchecksum.SumHead{}, nil, rsyncerr.NewErrorXfer(path, err)
		}
		sums = append(sums, rsyncchecksum.BlockSum{
			Index:  i,
			Weak:   rsyncchecksum.Sum32(window),
			Strong: rsyncchecksum.StrongDigestN(g.Opts.ChecksumSeed, window, sh.DigestLength),
		})
	}
	return sh, sums, nil
}

// deferAttrs queues a directory/unchanged-file attribute fix-up, applied
// only once every sibling has been materialized (spec.md §4.7, "Deferred
// jobs"). The queue is flushed LIFO at session end so a directory's
// contents are always written before its own mtime is pinned.
func (g *Generator) deferAttrs(f *filelist.FileInfo, local string) {
	g.deferred = append(g.deferred, func() error {
		return ApplyAttrs(local, f, g.Opts)
	})
}

func (g *Generator) flushDeferred() error {
	for i := len(g.deferred) - 1; i >= 0; i-- {
		if err := g.deferred[i](); err != nil {
			return err
		}
	}
	for !g.List.Empty() {
		if err := g.List.DeleteFirstSegment(); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) logf(format string, args ...any) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
	}
}

func kindOf(st os.FileInfo) filelist.Kind {
	switch {
	case st.Mode()&os.ModeSymlink != 0:
		return filelist.KindSymlink
	case st.IsDir():
		return filelist.KindDirectory
	case st.Mode()&(os.ModeDevice|os.ModeCharDevice) != 0:
		return filelist.KindDevice
	case st.Mode()&(os.ModeNamedPipe|os.ModeSocket) != 0:
		return filelist.KindSpecial
	default:
		return filelist.KindRegular
	}
}

// reportItemize logs one processed entry's itemize flag mask (spec.md
// §4.7 step 4) through Logger, gated on Verbose unless AlwaysItemize
// forces every entry to be reported regardless (spec.md §9, matching the
// reference's --itemize-changes, which itemizes even without -v).
func (g *Generator) reportItemize(name string, isNew, transfer bool) {
	if g.Opts.Verbose == 0 && !g.Opts.AlwaysItemize {
		return
	}
	g.logf("%04o %s", itemizeFlags(isNew, transfer), name)
}

// itemizeFlags computes the itemize bits for one processed entry (spec.md
// §4.7 step 4); the wire itself never transmits these (see DESIGN.md), so
// reportItemize's log line is the only consumer.
func itemizeFlags(isNew, transfer bool) uint16 {
	var flags uint16
	if isNew {
		flags |= rsync.ItemIsNew
	}
	if transfer {
		flags |= rsync.ItemTransfer
	} else {
		flags |= rsync.ItemNoChange
	}
	return flags
}
