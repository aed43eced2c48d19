// Package sender implements the Sender role from spec.md §4.6: producing
// the file list, answering the Generator's per-file checksum requests, and
// emitting the literal/match token stream plus whole-file digest.
//
// Grounded on rsync's receiver.RecvFiles/recvFile1/receiveData loop
// shape (a single blocking index-driven loop over one *rsyncwire.Conn), run
// in reverse: here the role writes a file list and reads checksum
// requests instead of reading a file list and writing tokens.
package sender

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zrsync/rrsync/internal/filelist"
	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncchecksum"
	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncopts"
	"github.com/zrsync/rrsync/internal/rsyncstats"
	"github.com/zrsync/rrsync/internal/rsyncwire"
	"github.com/zrsync/rrsync/rsync"
)

// Sender drives the Sender role over one full-duplex Conn shared with the
// Generator/Receiver side: it first writes the File List, then serves a
// checksum-request/token-stream loop per requested index until it reads the
// DONE index (0).
type Sender struct {
	Conn    *rsyncwire.Conn
	Sources []string
	Opts    rsyncopts.Options
	Seed    int32
	Logger  *log.Logger

	list         *filelist.List
	tokenPrevIdx int32
}

// Run executes the Sender role end to end (spec.md §4.6's "a single run()
// that drives to completion").
func (s *Sender) Run() (*rsyncstats.TransferStats, error) {
	list, err := s.buildFileList()
	if err != nil {
		return nil, err
	}
	s.list = list

	if err := s.sendFileList(); err != nil {
		return nil, err
	}

	stats := &rsyncstats.TransferStats{}
	var prevIndex int32

	for {
		idx, err := filelist.DecodeIndex(s.Conn.Reader, prevIndex)
		if err != nil {
			return nil, err
		}
		if idx == 0 {
			break // DONE sentinel (spec.md §4.2): no more requests.
		}
		prevIndex = idx
		f := s.list.Get(idx)
		if f == nil {
			return nil, rsyncerr.NewProtocolError("generator requested unknown file index %d", idx)
		}
		if err := s.sendFile(idx, f, stats); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (s *Sender) sendFileList() error {
	var prev filelist.XMITState
	err := s.list.EachInOrder(func(_ int32, f *filelist.FileInfo) error {
		var perr error
		prev, perr = filelist.WriteEntry(s.Conn, prev, f, isTopLevel(f))
		return perr
	})
	if err != nil {
		return err
	}
	if err := filelist.WriteEnd(s.Conn); err != nil {
		return err
	}
	return s.Conn.Flush()
}

func isTopLevel(f *filelist.FileInfo) bool {
	return !filepath.IsAbs(f.Name) && filepath.Dir(f.Name) == "."
}

// sendFile answers one Generator checksum request: read the header+table
// the Generator already emitted for this index, scan the local file, and
// write the match/literal token stream plus whole-file digest (spec.md
// §4.6 steps 1-5).
func (s *Sender) sendFile(idx int32, f *filelist.FileInfo, stats *rsyncstats.TransferStats) error {
	sh, err := rsyncchecksum.ReadSumHead(s.Conn)
	if err != nil {
		return err
	}
	sums, err := rsyncchecksum.ReadChecksumTable(s.Conn, sh)
	if err != nil {
		return err
	}

	if err := s.Conn.Write(filelist.EncodeIndex(s.tokenPrevIdx, idx)); err != nil {
		return err
	}
	s.tokenPrevIdx = idx

	in, err := os.Open(f.LocalPath)
	if err != nil {
		// ERROR_XFER is genuinely out-of-band only once the connection is
		// multiplexed; over an unmultiplexed local-copy pipe WriteMessage
		// can't represent it, so fall back to a local log line. Either
		// way the failure stays non-fatal to the session (spec.md §4.6,
		// "Edge policies"): we still emit a well-formed, zero-content
		// token stream so the Generator/Receiver side completes cleanly.
		if werr := s.Conn.WriteMessage(rsync.MsgErrorXfer, []byte(err.Error())); werr != nil {
			s.logf("%s: %v", f.LocalPath, err)
		}
		if err := s.Conn.WriteInt32(0); err != nil { // empty token stream
			return err
		}
		var zero [16]byte
		return s.Conn.Write(zero[:])
	}
	defer in.Close()

	literal, matched, err := s.scanAndEmit(in, sh, sums)
	if err != nil {
		return err
	}
	stats.AddFile(int64(f.Attrs.Size), literal, matched, true)
	return nil
}

// hashTable buckets block indices by their weak checksum, preserving
// ascending block-index order within a bucket so ties favor the earliest
// matching block in receiver order (spec.md §4.6, "Tie-breaks").
type hashTable map[uint32][]rsyncchecksum.BlockSum

func buildHashTable(sums []rsyncchecksum.BlockSum) hashTable {
	ht := make(hashTable, len(sums))
	for _, bs := range sums {
		ht[bs.Weak] = append(ht[bs.Weak], bs)
	}
	for _, bucket := range ht {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Index < bucket[j].Index })
	}
	return ht
}

// scanAndEmit implements spec.md §4.6 steps 2-5: slide a window of
// sh.BlockLength across in, matching against the Generator's checksum
// table, emitting match/literal tokens, and finishing with the
// end-of-tokens marker and whole-file digest.
func (s *Sender) scanAndEmit(in *os.File, sh rsyncchecksum.SumHead, sums []rsyncchecksum.BlockSum) (literal, matched int64, err error) {
	digest := rsyncchecksum.NewFileDigest(s.Seed)

	data, err := io.ReadAll(in)
	if err != nil {
		return 0, 0, err
	}

	var litStart int
	flushLiteral := func(end int) error {
		if end <= litStart {
			return nil
		}
		chunk := data[litStart:end]
		if err := s.Conn.WriteInt32(int32(len(chunk))); err != nil {
			return err
		}
		if err := s.Conn.Write(chunk); err != nil {
			return err
		}
		digest.Write(chunk)
		literal += int64(len(chunk))
		return nil
	}

	// A zero block length means the Generator had no basis blocks to offer
	// (a brand-new file, or the local file genuinely being empty): there is
	// nothing to match against, so the whole read is one literal run.
	if sh.BlockLength == 0 {
		if err := flushLiteral(len(data)); err != nil {
			return 0, 0, err
		}
		return literal, matched, s.finish(digest)
	}
	ht := buildHashTable(sums)

	pos := 0
	n := len(data)
	for pos < n {
		winLen := int(sh.BlockLength)
		if pos+winLen > n {
			winLen = n - pos
		}
		window := data[pos : pos+winLen]
		weak := rsyncchecksum.Sum32(window)

		var hit *rsyncchecksum.BlockSum
		if bucket, ok := ht[weak]; ok {
			strong := rsyncchecksum.StrongDigestN(s.Seed, window, sh.DigestLength)
			for i := range bucket {
				if bytesEqual(bucket[i].Strong, strong) {
					hit = &bucket[i]
					break
				}
			}
		}

		if hit != nil && winLen == int(sh.Window(hit.Index)) {
			if err := flushLiteral(pos); err != nil {
				return 0, 0, err
			}
			if err := s.Conn.WriteInt32(-(hit.Index + 1)); err != nil {
				return 0, 0, err
			}
			digest.Write(window)
			matched += int64(winLen)
			pos += winLen
			litStart = pos
			continue
		}
		pos++
	}
	if err := flushLiteral(n); err != nil {
		return 0, 0, err
	}
	return literal, matched, s.finish(digest)
}

func (s *Sender) finish(digest *rsyncchecksum.FileDigest) error {
	if err := s.Conn.WriteInt32(0); err != nil {
		return err
	}
	sum := digest.Sum()
	return s.Conn.Write(sum[:])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// buildFileList walks Sources, producing a segmented filelist.List: one
// segment per directory, matching spec.md §3's data model. Recursive
// descent is eager (the whole tree is walked up front) rather than the
// reference's lazy incremental expansion; see DESIGN.md.
func (s *Sender) buildFileList() (*filelist.List, error) {
	list := filelist.NewList()

	type pending struct {
		path     string
		rel      string
		dirIndex int32
		dirInfo  *filelist.FileInfo
	}

	var queue []pending
	for _, src := range s.Sources {
		fi, err := statEntry(filepath.Base(src), src)
		if err != nil {
			return nil, err
		}
		if fi.Kind == filelist.KindDirectory {
			queue = append(queue, pending{path: src, dirIndex: filelist.InitialDirectoryIndex, dirInfo: nil})
		} else {
			list.AppendSegment(filelist.InitialDirectoryIndex, nil, []*filelist.FileInfo{fi})
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(cur.path)
		if err != nil {
			return nil, rsyncerr.NewErrorXfer(cur.path, err)
		}
		files := make([]*filelist.FileInfo, 0, len(entries))
		for _, e := range entries {
			fi, err := statEntry(filepath.Join(cur.rel, e.Name()), filepath.Join(cur.path, e.Name()))
			if err != nil {
				s.logf("skipping %s: %v", e.Name(), err)
				continue
			}
			files = append(files, fi)
		}
		seg := list.AppendSegment(cur.dirIndex, cur.dirInfo, files)

		for idx := range seg.EntrySet() {
			fi := seg.EntrySet()[idx]
			if fi.Kind == filelist.KindDirectory && s.Opts.FileSelection == rsync.FileSelectionRecurse {
				queue = append(queue, pending{path: fi.LocalPath, rel: fi.Name, dirIndex: idx, dirInfo: fi})
			}
		}
	}
	return list, nil
}

func statEntry(name, localPath string) (*filelist.FileInfo, error) {
	st, err := os.Lstat(localPath)
	if err != nil {
		return nil, err
	}
	f := &filelist.FileInfo{
		WireName:  []byte(name),
		Name:      name,
		LocalPath: localPath,
	}
	f.Attrs.Size = uint64(st.Size())
	f.Attrs.ModTime = st.ModTime().Unix()
	f.Attrs.Mode = uint32(st.Mode().Perm())

	switch {
	case st.Mode()&fs.ModeSymlink != 0:
		f.Kind = filelist.KindSymlink
		f.Attrs.Mode |= 0120000
		target, err := os.Readlink(localPath)
		if err != nil {
			return nil, err
		}
		f.Target = target
	case st.IsDir():
		f.Kind = filelist.KindDirectory
		f.Attrs.Mode |= 0040000
	default:
		f.Kind = filelist.KindRegular
	}
	return f, nil
}

func (s *Sender) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
