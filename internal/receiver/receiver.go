// Package receiver implements the Receiver role from spec.md §4.8:
// consume the Sender's token stream for each file the Generator flagged
// as needing transfer, reconstruct it into a sibling temp file, verify
// the whole-file MD5, atomically install it, apply attributes, and
// report statistics.
//
// Grounded on rsync's receiver/receiver.go (RecvFiles/recvFile1/
// receiveData), adapted from a single *Transfer struct driving both the
// Generator and Receiver loops into a standalone role that reads
// reconstruction Jobs from the Generator over an in-process channel
// instead of indexing into a shared fileList slice.
package receiver

import (
	"bytes"
	"os"

	"github.com/zrsync/rrsync/internal/filelist"
	"github.com/zrsync/rrsync/internal/generator"
	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncchecksum"
	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncopts"
	"github.com/zrsync/rrsync/internal/rsyncstats"
	"github.com/zrsync/rrsync/internal/rsyncwire"
)

// Receiver drives the Receiver role. TokenConn is the read side of the
// Sender's token-stream pipe; Jobs/Acks are the in-process handoff shared
// with the Generator (see internal/generator's doc comment).
type Receiver struct {
	TokenConn *rsyncwire.Conn
	Jobs      <-chan generator.Job
	Acks      chan<- generator.Ack
	Seed      int32
	Opts      rsyncopts.Options
	Logger    *log.Logger
	Stats     *rsyncstats.TransferStats

	tokenPrevIdx int32
}

// Run processes every Job until the Generator closes the channel,
// acknowledging each one so the Generator can move on (or retry).
func (r *Receiver) Run() error {
	for job := range r.Jobs {
		err := r.recvFile(job)
		redo := false
		if _, ok := err.(*digestMismatch); ok {
			redo = true
			err = nil
		}
		r.Acks <- generator.Ack{Index: job.Index, Redo: redo, Err: err}
		if err != nil {
			return err
		}
	}
	return nil
}

// digestMismatch signals the reconstructed file's MD5 didn't match the
// Sender's, distinct from a hard I/O error so Run can translate it into a
// Redo Ack instead of aborting the whole session.
type digestMismatch struct{ path string }

func (e *digestMismatch) Error() string { return "checksum mismatch: " + e.path }

// recvFile implements spec.md §4.8's per-file reconstruction loop.
func (r *Receiver) recvFile(job generator.Job) error {
	if r.Opts.DryRun {
		return nil
	}

	// Each token stream is preceded by the file index it belongs to.
	idx, err := filelist.DecodeIndex(r.TokenConn.Reader, r.tokenPrevIdx)
	if err != nil {
		return err
	}
	r.tokenPrevIdx = idx
	if idx != job.Index {
		return rsyncerr.NewProtocolError("token stream for index %d while expecting %d", idx, job.Index)
	}

	var basis *os.File
	if job.Basis != "" {
		f, err := os.Open(job.Basis)
		if err != nil && !os.IsNotExist(err) {
			r.logf("opening basis file failed, continuing: %v", err)
		} else if err == nil {
			basis = f
			defer basis.Close()
		}
	}

	r.logf("creating %s", job.Dest)
	out, err := newPendingFile(job.Dest)
	if err != nil {
		return rsyncerr.NewErrorXfer(job.Dest, err)
	}
	defer out.Cleanup()

	digest := rsyncchecksum.NewFileDigest(r.Seed)
	var literal, matched int64

	for {
		token, err := r.TokenConn.ReadInt32()
		if err != nil {
			return err
		}
		if token == 0 {
			break
		}
		if token > 0 {
			data, err := r.TokenConn.ReadN(int(token))
			if err != nil {
				return err
			}
			if _, err := out.Write(data); err != nil {
				return rsyncerr.NewErrorXfer(job.Dest, err)
			}
			digest.Write(data)
			literal += int64(len(data))
			continue
		}

		if basis == nil {
			return rsyncerr.NewProtocolError("match token for %s but no basis file is open", job.Dest)
		}
		blockIndex := -(token + 1)
		offset := int64(blockIndex) * int64(job.SumHead.BlockLength)
		length := job.SumHead.Window(blockIndex)
		data := make([]byte, length)
		if _, err := basis.ReadAt(data, offset); err != nil {
			return rsyncerr.NewErrorXfer(job.Dest, err)
		}
		if _, err := out.Write(data); err != nil {
			return rsyncerr.NewErrorXfer(job.Dest, err)
		}
		digest.Write(data)
		matched += int64(length)
	}

	localSum := digest.Sum()
	remoteSum, err := r.TokenConn.ReadN(len(localSum))
	if err != nil {
		return err
	}
	if !bytes.Equal(localSum[:], remoteSum) {
		return &digestMismatch{path: job.Dest}
	}
	r.logf("checksum %x matches", localSum)

	if err := out.CloseAtomicallyReplace(); err != nil {
		return rsyncerr.NewErrorXfer(job.Dest, err)
	}
	if err := generator.ApplyAttrs(job.Dest, job.File, r.Opts); err != nil {
		return rsyncerr.NewErrorXfer(job.Dest, err)
	}

	r.Stats.AddFile(int64(job.File.Attrs.Size), literal, matched, true)
	return nil
}

func (r *Receiver) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}
