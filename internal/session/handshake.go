package session

import (
	"bufio"
	"io"

	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncwire"
	"github.com/zrsync/rrsync/rsync"
)

// NegotiateVersion performs the plain (non-daemon) version exchange used
// once a "--server" process is already talking over an open pipe (spec.md
// §4.5's VERSION_EXCHANGE step without the daemon "@RSYNCD:" greeting
// lines, grounded on rsync's clientRun: "c.WriteInt32(rsync.ProtocolVersion);
// remoteProtocol, err := c.ReadInt32()"). The negotiated version is
// min(ours, peer's); a result outside the supported range is a
// ProtocolError.
func NegotiateVersion(c *rsyncwire.Conn) (int32, error) {
	if err := c.WriteInt32(rsync.ProtocolVersion); err != nil {
		return 0, err
	}
	peer, err := c.ReadInt32()
	if err != nil {
		return 0, rsyncerr.NewProtocolError("reading peer protocol version: %v", err)
	}
	negotiated := peer
	if rsync.ProtocolVersion < negotiated {
		negotiated = rsync.ProtocolVersion
	}
	if negotiated < rsync.MinProtocolVersion || negotiated > rsync.MaxProtocolVersion {
		return 0, rsyncerr.NewProtocolError("peer protocol version %d outside supported range [%d,%d]",
			peer, rsync.MinProtocolVersion, rsync.MaxProtocolVersion)
	}
	return negotiated, nil
}

// installMultiplex wraps conn's raw bytes in a MultiplexReader and hands
// the Conn a buffered reader over it, switching from the handshake's plain
// byte stream into the tagged multiplex region (spec.md §6, "multiplexed
// region begins"). 256 KiB matches rsync's own buffer size choice in
// clientRun ("TODO: rearchitect such that our buffer can be smaller than
// the largest rsync message size").
func installMultiplex(c *rsyncwire.Conn, conn io.Reader, handler rsyncwire.MessageHandler) {
	mrd := &rsyncwire.MultiplexReader{Reader: conn, Handler: handler}
	c.Reader = bufio.NewReaderSize(mrd, 256*1024)
}

// installMultiplexWriter wraps conn's outbound bytes in a MultiplexWriter
// (spec.md §6, "Switch to multiplexing protocol, but only for server-side
// transmissions"): the --server-invoked side tags everything it writes;
// its reads from the client stay a plain byte stream.
func installMultiplexWriter(c *rsyncwire.Conn, conn io.Writer) {
	c.Writer = &rsyncwire.MultiplexWriter{Writer: conn}
}

// ClientHandshake drives the full plain (--server, non-daemon) handshake
// state machine from the client side: VERSION_EXCHANGE -> ARG_EXCHANGE ->
// COMPAT_FLAGS -> SEED -> RUNNING (spec.md §4.5). rawConn is the
// already-open bidirectional byte channel (a pipe to a locally spawned
// "--server" process, or a remote shell's stdio); args is the server
// command line the remote --server process should parse.
func ClientHandshake(rawConn io.ReadWriter, args []string, fileSelection rsync.FileSelection) (*rsyncwire.Conn, Config, error) {
	crd := &rsyncwire.CountingReader{R: rawConn}
	cwr := &rsyncwire.CountingWriter{W: rawConn}
	c := &rsyncwire.Conn{Reader: crd, Writer: cwr}

	negotiated, err := NegotiateVersion(c)
	if err != nil {
		return nil, Config{}, err
	}
	cfg, err := ClientArgsCompatSeed(c, rawConn, args, fileSelection)
	if err != nil {
		return nil, Config{}, err
	}
	cfg.ProtocolVersion = negotiated
	return c, cfg, nil
}

// ClientArgsCompatSeed runs the ARG_EXCHANGE -> COMPAT_FLAGS -> SEED tail of
// spec.md §4.5's state machine from the client side, the counterpart to
// ServerArgsCompatSeed: write the argument list, read the compat-flags byte
// and checksum seed, then switch the read side to the tagged multiplex.
// Shared between ClientHandshake (which runs NegotiateVersion first) and
// callers that reached this point via DaemonDial instead (whose
// "@RSYNCD:"-prefixed text greeting is its own, separate version exchange,
// not interchangeable with NegotiateVersion's binary int32 one).
func ClientArgsCompatSeed(c *rsyncwire.Conn, rawConn io.Reader, args []string, fileSelection rsync.FileSelection) (Config, error) {
	if err := WriteArgs(c, args); err != nil {
		return Config{}, err
	}
	compatFlags, err := c.ReadByte()
	if err != nil {
		return Config{}, rsyncerr.NewProtocolError("reading compat flags: %v", err)
	}
	if err := ValidateCompatFlags(fileSelection, compatFlags); err != nil {
		return Config{}, err
	}
	seed, err := c.ReadInt32()
	if err != nil {
		return Config{}, rsyncerr.NewProtocolError("reading checksum seed: %v", err)
	}

	sink := &MessageSink{}
	installMultiplex(c, rawConn, sink.Handle)

	return Config{
		ChecksumSeed:   seed,
		FileSelection:  fileSelection,
		CompatFlags:    compatFlags,
		IsSafeFileList: compatFlags&rsync.CF_SAFE_FLIST != 0,
		IsIncRecurse:   compatFlags&rsync.CF_INC_RECURSE != 0,
		Sink:           sink,
	}, nil
}

// ServerHandshake is ClientHandshake's counterpart for the side that was
// exec'd as "--server": it reads the client's argument list, picks the
// compat flags and checksum seed, and returns them alongside the args so
// the caller can configure itself before entering RUNNING.
func ServerHandshake(rawConn io.ReadWriter, compatFlags byte) (*rsyncwire.Conn, Config, []string, error) {
	crd := &rsyncwire.CountingReader{R: rawConn}
	cwr := &rsyncwire.CountingWriter{W: rawConn}
	c := &rsyncwire.Conn{Reader: crd, Writer: cwr}

	negotiated, err := NegotiateVersion(c)
	if err != nil {
		return nil, Config{}, nil, err
	}
	cfg, args, err := ServerArgsCompatSeed(c, cwr, negotiated, compatFlags)
	if err != nil {
		return nil, Config{}, nil, err
	}
	return c, cfg, args, nil
}

// ServerArgsCompatSeed runs the ARG_EXCHANGE -> COMPAT_FLAGS -> SEED tail
// of spec.md §4.5's state machine that every "--server"-invoked process
// shares, whether it got there via the plain handshake (ServerHandshake)
// or via a daemon module greeting (DaemonGreet): read the NUL-terminated
// argument list, write the compat-flags byte, generate and write the
// checksum seed, then switch the write side to the tagged multiplex
// (spec.md §6, "server-side transmissions"). mpxWriter is the Writer the
// MultiplexWriter wraps; callers pass their CountingWriter so byte
// accounting survives the switch.
func ServerArgsCompatSeed(c *rsyncwire.Conn, mpxWriter io.Writer, negotiated int32, compatFlags byte) (Config, []string, error) {
	args, err := ReadArgs(c)
	if err != nil {
		return Config{}, nil, rsyncerr.NewProtocolError("reading server args: %v", err)
	}
	if err := c.WriteByte(compatFlags); err != nil {
		return Config{}, nil, err
	}
	seed, err := NewSeed()
	if err != nil {
		return Config{}, nil, err
	}
	if err := c.WriteInt32(seed); err != nil {
		return Config{}, nil, err
	}

	installMultiplexWriter(c, mpxWriter)

	return Config{
		ProtocolVersion: negotiated,
		ChecksumSeed:    seed,
		CompatFlags:     compatFlags,
		IsSafeFileList:  compatFlags&rsync.CF_SAFE_FLIST != 0,
		IsIncRecurse:    compatFlags&rsync.CF_INC_RECURSE != 0,
	}, args, nil
}
