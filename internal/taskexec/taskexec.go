// Package taskexec implements the Task Executor from spec.md §4.9/§5:
// it wires up however many role tasks a transfer needs and runs them
// concurrently, cancelling every other role the moment one fails.
//
// Grounded on rsync's receiver/do.go Transfer.Do, which drives its
// Generator/Receiver pair through one golang.org/x/sync/errgroup;
// generalized here to the full Sender/Generator/Receiver triple a
// local-copy transfer needs (spec.md §5, "A local-copy transfer spawns
// three tasks ... connected by two in-memory byte pipes").
package taskexec

import (
	"context"
	"io"

	"github.com/zrsync/rrsync/internal/generator"
	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/receiver"
	"github.com/zrsync/rrsync/internal/rsyncopts"
	"github.com/zrsync/rrsync/internal/rsyncstats"
	"github.com/zrsync/rrsync/internal/rsyncwire"
	"github.com/zrsync/rrsync/internal/sender"
	"github.com/zrsync/rrsync/internal/session"
	"golang.org/x/sync/errgroup"
)

// Result is the combined outcome of a local-copy run: the Sender's view
// of what it read off disk and the Generator/Receiver's view of what
// landed at Dest (spec.md §4.8, "Statistics" — tracked per role, not
// merged, matching the two-sided stats a remote transfer would report).
type Result struct {
	SenderStats   *rsyncstats.TransferStats
	ReceiverStats *rsyncstats.TransferStats
}

// RunLocalCopy wires a Sender task reading Sources to a Generator+Receiver
// pair writing into Dest, over the two in-memory pipes spec.md §5
// prescribes for local copies, and runs all three concurrently. The first
// role to fail has every other role's pipe closed out from under it
// (spec.md §4.9, "cancellation is cooperative via channel closure"), which
// unblocks whichever blocking Read/Write it was waiting on.
func RunLocalCopy(ctx context.Context, sources []string, dest string, opts rsyncopts.Options, seed int32, logger *log.Logger) (*Result, error) {
	reqR, reqW := io.Pipe()   // Generator -> Sender: requested index + checksum header/table
	dataR, dataW := io.Pipe() // Sender -> Generator (file list) then Sender -> Receiver (token stream)

	senderStats := &rsyncstats.TransferStats{}
	receiverStats := &rsyncstats.TransferStats{}

	jobs := make(chan generator.Job)
	acks := make(chan generator.Ack)

	snd := &sender.Sender{
		Conn:    &rsyncwire.Conn{Reader: reqR, Writer: dataW},
		Sources: sources,
		Opts:    opts,
		Seed:    seed,
		Logger:  logger,
	}
	gen := &generator.Generator{
		Conn:   &rsyncwire.Conn{Reader: dataR, Writer: reqW},
		Dest:   dest,
		Opts:   opts,
		Logger: logger,
		Jobs:   jobs,
		Acks:   acks,
		Stats:  receiverStats,
	}
	recv := &receiver.Receiver{
		TokenConn: &rsyncwire.Conn{Reader: dataR},
		Jobs:      jobs,
		Acks:      acks,
		Seed:      seed,
		Opts:      opts,
		Logger:    logger,
		Stats:     receiverStats,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		stats, err := snd.Run()
		if err != nil {
			return err
		}
		senderStats = stats
		return nil
	})
	eg.Go(gen.Run)
	eg.Go(recv.Run)

	// errgroup cancels egCtx the moment any of the three roles above
	// returns an error; this watcher turns that into the pipe closures
	// spec.md §4.9 calls for, unblocking whichever other role is still
	// parked in a blocking Read/Write. It runs outside the group itself
	// since egCtx is also cancelled on the plain success path (once
	// Wait returns), which would otherwise deadlock the group waiting on
	// its own cancellation watcher.
	go func() {
		<-egCtx.Done()
		err := egCtx.Err()
		reqR.CloseWithError(err)
		reqW.CloseWithError(err)
		dataR.CloseWithError(err)
		dataW.CloseWithError(err)
	}()

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &Result{SenderStats: senderStats, ReceiverStats: receiverStats}, nil
}

// RunRemoteSend runs the Sender role alone against an already-handshaken
// remote Conn (spec.md §5: "A remote transfer spawns two tasks
// (Generator + Receiver, or Sender) on our side, and the peer hosts the
// others" — here our side hosts only the Sender). closer is called once
// ctx is done to unblock a Sender parked in a blocking Read/Write; callers
// typically pass the underlying net.Conn's Close.
func RunRemoteSend(ctx context.Context, conn *rsyncwire.Conn, sources []string, opts rsyncopts.Options, seed int32, logger *log.Logger, closer func() error) (*rsyncstats.TransferStats, error) {
	snd := &sender.Sender{
		Conn:    conn,
		Sources: sources,
		Opts:    opts,
		Seed:    seed,
		Logger:  logger,
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if closer != nil {
				closer()
			}
		case <-done:
		}
	}()

	return snd.Run()
}

// RunRemoteReceive runs the Generator+Receiver pair against an
// already-handshaken remote Conn, the other half of spec.md §5's
// remote-transfer split: the Sender role lives on the peer, reached
// through the same full-duplex conn. Generator only reads conn up front
// (the incoming file list); every read after that belongs to Receiver, so
// the two roles safely share one Conn the same way RunLocalCopy's
// Generator/Receiver pair shares one io.PipeReader. sink, when non-nil
// (the client-role handshake's Config.Sink; a "--server"-invoked peer's
// Conn never demultiplexes its own reads, see installMultiplexWriter),
// gets its error counter and NO_SEND handling wired to this Generator.
func RunRemoteReceive(ctx context.Context, conn *rsyncwire.Conn, dest string, opts rsyncopts.Options, seed int32, logger *log.Logger, closer func() error, sink *session.MessageSink) (*Result, error) {
	receiverStats := &rsyncstats.TransferStats{}

	jobs := make(chan generator.Job)
	acks := make(chan generator.Ack)

	gen := &generator.Generator{
		Conn:   conn,
		Dest:   dest,
		Opts:   opts,
		Logger: logger,
		Jobs:   jobs,
		Acks:   acks,
		Stats:  receiverStats,
	}
	if sink != nil {
		sink.Stats = receiverStats
		noSend := make(chan int32, 8)
		gen.NoSend = noSend
		sink.OnNoSend = func(idx int32) { noSend <- idx }
	}
	recv := &receiver.Receiver{
		TokenConn: &rsyncwire.Conn{Reader: conn.Reader},
		Jobs:      jobs,
		Acks:      acks,
		Seed:      seed,
		Opts:      opts,
		Logger:    logger,
		Stats:     receiverStats,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(gen.Run)
	eg.Go(recv.Run)

	go func() {
		<-egCtx.Done()
		if closer != nil {
			closer()
		}
	}()

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &Result{ReceiverStats: receiverStats}, nil
}
