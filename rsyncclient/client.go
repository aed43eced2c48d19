// Package rsyncclient is the public entry point for driving a transfer as
// the "client" side of a plain (non-daemon) "--server" connection: build a
// Client from a small set of human-friendly flags, then Run it against an
// already-open bidirectional byte channel (a pipe to a locally spawned
// "rsync --server" process, or a remote shell's stdio). Opening that
// channel — spawning a subprocess, dialing a daemon socket, resolving a
// USER@HOST::MODULE spec — is explicitly left to the caller; see spec.md
// §1's "out of scope" list.
package rsyncclient

import (
	"context"
	"io"
	"strings"

	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncopts"
	"github.com/zrsync/rrsync/internal/session"
	"github.com/zrsync/rrsync/internal/taskexec"
)

// Option configures a Client beyond what its flag string already encodes.
type Option func(*Client)

// WithSender marks this Client as the one reading the local paths and
// sending their content, rather than receiving into them (spec.md §6,
// "Server arguments format": the "--sender" flag).
func WithSender() Option {
	return func(c *Client) { c.opts.Sender = true }
}

// Client drives one transfer's worth of the plain "--server" protocol from
// the locally-invoking side.
type Client struct {
	opts *rsyncopts.Options
}

// New builds a Client from a small set of rsync-style flags (e.g. "-av").
// This is not general CLI parsing (spec.md §1 leaves that out of core
// scope); it recognizes exactly the bundled short letters
// rsyncopts.ParseArguments does, plus the common "a" (archive) alias
// expanded to its component letters the way a real rsync client expands it
// before ever putting anything on the wire.
func New(args []string, opts ...Option) (*Client, error) {
	pc, err := rsyncopts.ParseArguments(expandArchive(args))
	if err != nil {
		return nil, err
	}
	c := &Client{opts: pc.Options}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// expandArchive rewrites a bundled "-a" flag into the component letters
// the wire format actually carries ("rlptgoD", matching rsync's own
// --archive expansion), leaving every other token untouched.
func expandArchive(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if len(arg) > 1 && arg[0] == '-' && arg[1] != '-' && strings.ContainsRune(arg, 'a') {
			arg = strings.Replace(arg, "a", "rlptgoD", 1)
		}
		out[i] = arg
	}
	return out
}

// Run drives the handshake and transfer to completion. remotePath is the
// single path argument sent to the peer (spec.md §6's trailing
// "<module-name>/<path>"; what the remote "--server" process itself reads
// from or writes into). localPaths is this side's own file list: the
// sources read off local disk under WithSender, or a single-element slice
// naming the local destination directory otherwise. These are genuinely
// independent strings, matching the reference client's doCmd (which sends
// the remote-bound "path" argument) versus clientRun (which acts on its
// own "other" path) — collapsing them into one value only happens to work
// when caller and peer share a path namespace. rw is the already-open
// connection to the peer, which is assumed to already be running as
// "--server" on its end (having been spawned, or dialed as a daemon
// module, by the caller).
func (c *Client) Run(ctx context.Context, rw io.ReadWriter, localPaths []string, remotePath string) error {
	serverArgs := rsyncopts.BuildServerArgs(c.opts, []string{remotePath})
	conn, cfg, err := session.ClientHandshake(rw, serverArgs, c.opts.FileSelection)
	if err != nil {
		return err
	}
	if cfg.Sink != nil {
		cfg.Sink.Logger = log.Default
	}

	closer := func() error {
		if wc, ok := rw.(io.Closer); ok {
			return wc.Close()
		}
		return nil
	}

	if c.opts.Sender {
		_, err := taskexec.RunRemoteSend(ctx, conn, localPaths, *c.opts, cfg.ChecksumSeed, log.Default, closer)
		return err
	}

	if len(localPaths) != 1 {
		return rsyncerr.NewArgumentError("precisely one destination path required, got %q", localPaths)
	}
	_, err = taskexec.RunRemoteReceive(ctx, conn, localPaths[0], *c.opts, cfg.ChecksumSeed, log.Default, closer, cfg.Sink)
	return err
}
