// Command rrsync is a minimal entry point onto the engine in this module:
// "--server" drives one already-open stdio pipe through rsyncd.ServeConn
// (the calling convention a remote shell invokes), and the default mode
// runs a daemon listening for "@RSYNCD:" connections against a single
// configured module. A full popt-style flag grammar, config-file loading,
// remote-shell spawning and hostspec/URL parsing are explicitly out of
// core scope (spec.md §1); this binary exists to exercise the engine, not
// to replace every feature of the reference client.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncdconfig"
	"github.com/zrsync/rrsync/rsyncd"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--server" {
		if err := runServer(os.Args[2:]); err != nil {
			log.Printf("rrsync --server: %v", err)
			os.Exit(1)
		}
		return
	}
	if err := runDaemon(os.Args[1:]); err != nil {
		log.Printf("rrsync: %v", err)
		os.Exit(1)
	}
}

// stdioConn adapts the process's stdin/stdout into the single io.ReadWriter
// rsyncd.ServeConn expects, matching the reference client's own "read from
// the peer's stdout, write to the peer's stdin" plumbing.
type stdioConn struct {
	io.Reader
	io.Writer
}

// runServer implements the "--server" calling convention: stdin/stdout are
// already the live connection to whatever spawned this process (a remote
// shell, or a directly piped local subprocess). The arguments following
// "--server" are not reparsed here; rsyncd.ServeConn reads the equivalent
// argument list back off the wire during ARG_EXCHANGE (spec.md §4.5), the
// same way a daemon-side module connection does.
func runServer(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return rsyncd.ServeConn(ctx, stdioConn{os.Stdin, os.Stdout}, log.New(os.Stderr))
}

// runDaemon listens on a TCP address and serves a single module built from
// flags. Multi-module rsyncd.conf-style configuration is out of core scope
// (spec.md §6, "Daemon config... Out of scope otherwise"); callers needing
// more than one module should use rsyncd.NewServer directly instead of this
// binary.
func runDaemon(args []string) error {
	fs := flag.NewFlagSet("rrsync", flag.ExitOnError)
	listen := fs.String("listen", "localhost:8730", "address to listen on for daemon connections")
	moduleName := fs.String("module_name", "", "name of the single module to serve")
	modulePath := fs.String("module_path", "", "local filesystem path the module exports")
	moduleComment := fs.String("module_comment", "", "comment shown in the module listing")
	moduleReadOnly := fs.Bool("module_readonly", true, "reject uploads into the module")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *moduleName == "" || *modulePath == "" {
		return fmt.Errorf("usage: rrsync -module_name=NAME -module_path=PATH [-listen=host:port]")
	}

	mod := rsyncdconfig.Module{
		Name:     *moduleName,
		Path:     *modulePath,
		Comment:  *moduleComment,
		ReadOnly: *moduleReadOnly,
	}
	server, err := rsyncd.NewServer([]rsyncd.Module{mod}, rsyncd.WithLogger(log.New(os.Stderr)))
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		return err
	}
	defer ln.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("rrsync daemon listening on %s, module %q -> %s", *listen, mod.Name, mod.Path)
	return server.Serve(ctx, ln)
}
