// Package rsyncd implements an rsync daemon: it accepts "@RSYNCD:"
// connections, greets and authenticates clients, dispatches requests to
// configured modules, and runs each transfer through the Sender or
// Generator+Receiver pair depending on which side of the transfer the
// client asked for.
package rsyncd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncdconfig"
	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncopts"
	"github.com/zrsync/rrsync/internal/rsyncwire"
	"github.com/zrsync/rrsync/internal/session"
	"github.com/zrsync/rrsync/internal/taskexec"
	"github.com/zrsync/rrsync/rsync"
)

// Module is the daemon's view of one exported directory; see
// internal/rsyncdconfig for the field definitions.
type Module = rsyncdconfig.Module

// Option specifies the server options.
type Option interface {
	applyServer(*Server)
}

type serverOptionFunc func(server *Server)

func (f serverOptionFunc) applyServer(s *Server) {
	f(s)
}

// WithLogger specifies the logger to use for the server.
func WithLogger(logger *log.Logger) Option {
	return serverOptionFunc(func(s *Server) {
		s.logger = logger
	})
}

func WithStderr(stderr io.Writer) Option {
	return serverOptionFunc(func(s *Server) {
		s.stderr = stderr
	})
}

func NewServer(modules []Module, opts ...Option) (*Server, error) {
	for _, mod := range modules {
		if err := validateModule(mod); err != nil {
			return nil, err
		}
	}

	server := &Server{
		modules: modules,
	}

	for _, opt := range opts {
		opt.applyServer(server)
	}

	// Default to os.Stderr if no stderr was specified.
	// Explicitly use io.Discard if you do not want stderr.
	if server.stderr == nil {
		server.stderr = os.Stderr
	}

	if server.logger == nil {
		server.logger = log.New(server.stderr)
	}

	return server, nil
}

type Server struct {
	stderr io.Writer
	logger *log.Logger

	modules []Module
}

func (s *Server) getModule(requestedModule string) (Module, error) {
	for _, mod := range s.modules {
		if mod.Name == requestedModule {
			return mod, nil
		}
	}

	return Module{}, fmt.Errorf("no such module: %s", requestedModule)
}

func (s *Server) moduleNames() []string {
	names := make([]string, len(s.modules))
	for i, mod := range s.modules {
		names[i] = mod.Name
	}
	return names
}

func (s *Server) moduleAuth(name string) session.ModuleAuthenticator {
	mod, err := s.getModule(name)
	if err != nil || mod.Auth == nil {
		return nil
	}
	return mod.Auth
}

func (s *Server) formatModuleList() string {
	if len(s.modules) == 0 {
		return ""
	}
	var list strings.Builder
	for _, mod := range s.modules {
		comment := mod.Comment
		if comment == "" {
			comment = mod.Name
		}
		fmt.Fprintf(&list, "%s\t%s\n", mod.Name, comment)
	}
	return list.String()
}

func checkACL(acls []string, remoteAddr net.Addr) error {
	if len(acls) == 0 {
		return nil
	}
	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		return fmt.Errorf("BUG: invalid remote address %q", remoteAddr.String())
	}
	remoteIP := net.ParseIP(host)
	if remoteIP == nil {
		return fmt.Errorf("BUG: invalid remote host %q", host)
	}
	for _, acl := range acls {
		i := strings.Index(acl, " ")
		if i < 0 {
			return fmt.Errorf("invalid acl: %q (no space found)", acl)
		}
		action, who := acl[:i], acl[i+len(" "):]
		if action != "allow" && action != "deny" {
			return fmt.Errorf("invalid acl: %q (syntax: allow|deny <all|ipnet>)", acl)
		}
		if who == "all" {
			// The all keyword matches any remote IP address
		} else {
			_, ipnet, err := net.ParseCIDR(who)
			if err != nil {
				return fmt.Errorf("invalid acl: %q (syntax: allow|deny <all|ipnet>)", acl)
			}
			if !ipnet.Contains(remoteIP) {
				continue
			}
		}
		switch action {
		case "allow":
			return nil
		case "deny":
			return fmt.Errorf("access denied (acl %q)", acl)
		}
	}
	return nil
}

// HandleDaemonConn drives one accepted "@RSYNCD:" connection end to end:
// greeting and module negotiation (internal/session.DaemonGreet), ACL
// check, the ARG_EXCHANGE/COMPAT_FLAGS/SEED tail
// (internal/session.ServerArgsCompatSeed), and finally the transfer itself
// (HandleConn).
func (s *Server) HandleDaemonConn(ctx context.Context, conn io.ReadWriter, remoteAddr net.Addr) (err error) {
	checkAccess := func(requestedModule string) error {
		mod, err := s.getModule(requestedModule)
		if err != nil {
			return err
		}
		return checkACL(mod.ACL, remoteAddr)
	}
	requestedModule, c, negotiated, err := session.DaemonGreet(conn, s.moduleNames(), s.moduleAuth, s.formatModuleList, checkAccess)
	if err != nil {
		if errors.Is(err, session.ErrModuleListing) {
			s.logger.Printf("client %v requested module listing", remoteAddr)
			return nil
		}
		return err
	}
	s.logger.Printf("client %v requested module %q", remoteAddr, requestedModule)

	module, err := s.getModule(requestedModule)
	if err != nil {
		return err
	}

	const defaultCompatFlags = rsync.CF_INC_RECURSE | rsync.CF_SAFE_FLIST
	cfg, args, err := session.ServerArgsCompatSeed(c, c.Writer, negotiated, defaultCompatFlags)
	if err != nil {
		return fmt.Errorf("server args: %w", err)
	}

	pc, err := rsyncopts.ParseArguments(args)
	if err != nil {
		mpx, _ := c.Writer.(*rsyncwire.MultiplexWriter)
		if mpx != nil {
			mpx.WriteMsg(rsync.MsgError, fmt.Appendf(nil, "rsyncd: parsing server args: %v\n", err))
		}
		return fmt.Errorf("parsing server args: %w", err)
	}
	opts := *pc.Options
	remaining := pc.RemainingArgs
	// remaining[0] is always "."; remaining[1:] are the requested paths.
	if len(remaining) < 2 || remaining[0] != "." {
		return rsyncerr.NewArgumentError("invalid args: expected \". <path>...\", got %q", remaining)
	}
	paths := remaining[1:]

	// Strip the "module_name/" prefix out of the paths the client sent,
	// see rsync/io.c:read_args, glob_expand_module().
	for idx, path := range paths {
		trimmed := strings.TrimPrefix(path, module.Name)
		trimmed = strings.TrimPrefix(trimmed, "/")
		if trimmed == "" {
			trimmed = "."
		}
		paths[idx] = trimmed
	}

	if opts.Sender {
		return s.HandleConn(ctx, module, c, conn, modulePaths(module, paths), "", opts, cfg.ChecksumSeed)
	}
	if len(paths) != 1 {
		return rsyncerr.NewArgumentError("precisely one destination path required, got %q", paths)
	}
	return s.HandleConn(ctx, module, c, conn, nil, modulePath(module, paths[0]), opts, cfg.ChecksumSeed)
}

// ServeConn implements the plain (non-daemon) "--server" calling
// convention used when this process itself was invoked with "--server"
// (e.g. spawned over ssh, or connected via an already-open pipe): it
// drives session.ServerHandshake directly instead of DaemonGreet's
// "@RSYNCD:" module negotiation, and treats the requested path(s) as real
// filesystem paths rather than a name inside a configured Module — the
// "implicit module" rsync's own handleConnSender/handleConnReceiver
// fall back to when module is nil.
func ServeConn(ctx context.Context, rawConn io.ReadWriter, logger *log.Logger) error {
	const defaultCompatFlags = rsync.CF_INC_RECURSE | rsync.CF_SAFE_FLIST
	c, cfg, args, err := session.ServerHandshake(rawConn, defaultCompatFlags)
	if err != nil {
		return err
	}
	pc, err := rsyncopts.ParseArguments(args)
	if err != nil {
		return fmt.Errorf("parsing server args: %w", err)
	}
	opts := *pc.Options
	remaining := pc.RemainingArgs
	if len(remaining) < 2 || remaining[0] != "." {
		return rsyncerr.NewArgumentError("invalid args: expected \". <path>...\", got %q", remaining)
	}
	paths := remaining[1:]

	s := &Server{logger: logger}
	if s.logger == nil {
		s.logger = log.Discard()
	}
	implicit := Module{Name: "implicit", Path: "/", ReadOnly: false}

	if opts.Sender {
		return s.HandleConn(ctx, implicit, c, rawConn, paths, "", opts, cfg.ChecksumSeed)
	}
	if len(paths) != 1 {
		return rsyncerr.NewArgumentError("precisely one destination path required, got %q", paths)
	}
	return s.HandleConn(ctx, implicit, c, rawConn, nil, paths[0], opts, cfg.ChecksumSeed)
}

// HandleConn runs the transfer itself once the handshake has picked
// compat flags and a checksum seed: Sender (reading sources) if the
// client asked for --sender, Generator+Receiver (writing dest) otherwise.
// Exactly one of sources/dest is meaningful, matching opts.Sender.
// rawConn is the unwrapped connection the caller was handed, closed from
// a cancellation watcher goroutine (internal/taskexec's closer parameter)
// to unblock whichever role is parked in a blocking Read/Write.
func (s *Server) HandleConn(ctx context.Context, module Module, c *rsyncwire.Conn, rawConn io.ReadWriter, sources []string, dest string, opts rsyncopts.Options, seed int32) (err error) {
	closer := func() error {
		if wc, ok := rawConn.(io.Closer); ok {
			return wc.Close()
		}
		return nil
	}

	if opts.Sender {
		stats, err := taskexec.RunRemoteSend(ctx, c, sources, opts, seed, s.logger, closer)
		if err != nil {
			s.writeError(c, "sender", err)
			return err
		}
		s.logger.Printf("handleConnSender done, stats: %+v", stats)
		return nil
	}

	if module.ReadOnly {
		return rsyncerr.NewArgumentError("module %q is read only", module.Name)
	}
	// nil sink: a "--server"-invoked side only ever installs
	// installMultiplexWriter on its write side (spec.md §6), never a
	// MultiplexReader, so there is no Config.Sink here to pass through.
	result, err := taskexec.RunRemoteReceive(ctx, c, dest, opts, seed, s.logger, closer, nil)
	if err != nil {
		s.writeError(c, "receiver", err)
		return err
	}
	s.logger.Printf("handleConnReceiver done, stats: %+v", result.ReceiverStats)
	return nil
}

// writeError sends a human-readable error over the out-of-band MsgError
// channel before the caller tears the connection down, the way real rsync
// reports server-side failures back to the client for display.
func (s *Server) writeError(c *rsyncwire.Conn, role string, err error) {
	mpx, ok := c.Writer.(*rsyncwire.MultiplexWriter)
	if !ok {
		return
	}
	mpx.WriteMsg(rsync.MsgError, fmt.Appendf(nil, "rsyncd [%s]: %v\n", role, err))
}

func modulePath(module Module, path string) string {
	if path == "." {
		return module.Path
	}
	return module.Path + "/" + path
}

func modulePaths(module Module, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = modulePath(module, p)
	}
	return out
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close() // unblocks Accept()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil // ignore expected 'use of closed network connection' error on context cancel
			default:
				return err
			}
		}
		remoteAddr := conn.RemoteAddr()
		s.logger.Printf("connection from %s", remoteAddr)
		go func() {
			defer conn.Close()
			if err := s.HandleDaemonConn(ctx, conn, remoteAddr); err != nil {
				s.logger.Printf("[%s] handle: %v", remoteAddr, err)
			}
		}()
	}
}

func validateModule(mod Module) error {
	if mod.Name == "" {
		return errors.New("module has no name")
	}
	if mod.Path == "" {
		return fmt.Errorf("module %q has empty path", mod.Name)
	}
	return nil
}
