// Package session implements the handshake and Session Config from
// spec.md §4.5: version exchange, daemon module request/greeting, MD5
// challenge-response authentication, argument exchange, compat flags and
// checksum seed — producing the immutable Config that every other role
// reads for the rest of the transfer.
package session

import (
	"bufio"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncwire"
	"github.com/zrsync/rrsync/rsync"
)

// Config is the immutable Session configuration of spec.md §3: the result
// of a completed handshake, read by every role for the rest of the
// transfer.
type Config struct {
	ProtocolVersion int32
	ChecksumSeed    int32
	Charset         string
	FileSelection   rsync.FileSelection
	CompatFlags     byte

	IsSafeFileList bool
	IsIncRecurse   bool

	// Sink is the out-of-band message handler installed on the
	// multiplexed read side (ClientArgsCompatSeed only; the
	// "--server"-invoked side never demultiplexes its reads, see
	// installMultiplexWriter). Callers fill in its Logger/Stats/OnNoSend
	// fields once they've built whatever those need to reach, before
	// starting the transfer — no multiplexed read happens until then.
	Sink *MessageSink
}

func (c Config) hasCompat(bit byte) bool { return c.CompatFlags&bit != 0 }

// AuthProvider is the contract spec.md §6 names: "getUser()->string,
// getPassword()->zeroizable chars".
type AuthProvider interface {
	User() string
	// Password returns the module password as a mutable byte slice; the
	// caller zeroes it immediately after computing the challenge
	// response (spec.md §4.5, "Passwords must be zeroed in memory
	// immediately after use").
	Password() []byte
}

// ExchangeVersion performs spec.md §4.5's version exchange: each side
// writes "@RSYNCD: N.M\n" and reads the peer's line; the negotiated
// version is min(ours, peer's), and must fall within
// [rsync.MinProtocolVersion, rsync.MaxProtocolVersion].
func ExchangeVersion(rd *bufio.Reader, wr *rsyncwire.Conn) (int32, error) {
	line := fmt.Sprintf("@RSYNCD: %d.0\n", rsync.ProtocolVersion)
	if err := wr.WriteString(line); err != nil {
		return 0, err
	}
	if err := wr.Flush(); err != nil {
		return 0, err
	}
	peer, err := rd.ReadString('\n')
	if err != nil {
		return 0, rsyncerr.NewProtocolError("reading peer version line: %v", err)
	}
	peerVersion, err := parseVersionLine(peer)
	if err != nil {
		return 0, err
	}
	negotiated := peerVersion
	if rsync.ProtocolVersion < negotiated {
		negotiated = rsync.ProtocolVersion
	}
	if negotiated < rsync.MinProtocolVersion || negotiated > rsync.MaxProtocolVersion {
		return 0, rsyncerr.NewProtocolError("peer protocol version %d outside supported range [%d,%d]",
			peerVersion, rsync.MinProtocolVersion, rsync.MaxProtocolVersion)
	}
	return negotiated, nil
}

func parseVersionLine(line string) (int32, error) {
	line = strings.TrimSpace(line)
	const prefix = "@RSYNCD:"
	if !strings.HasPrefix(line, prefix) {
		return 0, rsyncerr.NewProtocolError("malformed version line %q", line)
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	major := rest
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		major = rest[:idx]
	}
	v, err := strconv.Atoi(major)
	if err != nil {
		return 0, rsyncerr.NewProtocolError("malformed version line %q: %v", line, err)
	}
	return int32(v), nil
}

// AuthChallengeResponse computes spec.md §4.5's challenge response:
// base64_without_padding(MD5(password || challenge)). password is zeroed
// before returning.
func AuthChallengeResponse(password []byte, challenge string) string {
	defer zero(password)
	h := md5.New()
	h.Write(password)
	h.Write([]byte(challenge))
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// NewChallenge generates a fresh random daemon auth challenge, base64
// encoded without padding, for the server side of AUTHREQD.
func NewChallenge() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", rsyncerr.NewModuleError("generating auth challenge: %v", err)
	}
	return base64.RawStdEncoding.EncodeToString(buf[:]), nil
}

// NewSeed generates a fresh random checksum seed for the server side of a
// session (spec.md §4.5, "Server writes int32 seed").
func NewSeed() (int32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, rsyncerr.NewModuleError("generating checksum seed: %v", err)
	}
	return int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24, nil
}

// WriteArgs writes spec.md §4.5's argument list: each argument followed by
// a NUL byte, terminated by a bare NUL (empty argument).
func WriteArgs(c *rsyncwire.Conn, args []string) error {
	for _, a := range args {
		if err := c.WriteString(a); err != nil {
			return err
		}
		if err := c.WriteByte(0); err != nil {
			return err
		}
	}
	return c.WriteByte(0)
}

// ReadArgs reads spec.md §4.5's argument list back.
func ReadArgs(c *rsyncwire.Conn) ([]string, error) {
	var args []string
	var cur []byte
	for {
		b, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == 0 {
			if len(cur) == 0 {
				return args, nil
			}
			args = append(args, string(cur))
			cur = nil
			continue
		}
		cur = append(cur, b)
	}
}

// ValidateCompatFlags enforces spec.md §4.5's invariant: "Client aborts
// with ProtocolError if recursion requested and CF_INC_RECURSE missing."
func ValidateCompatFlags(fileSelection rsync.FileSelection, compatFlags byte) error {
	if fileSelection == rsync.FileSelectionRecurse && compatFlags&rsync.CF_INC_RECURSE == 0 {
		return rsyncerr.NewProtocolError("recursive transfer requested but peer did not set CF_INC_RECURSE")
	}
	return nil
}

// Logf is a small convenience so session code never reaches for a global
// logger; construction always threads an explicit *log.Logger through.
func Logf(l *log.Logger, format string, args ...any) {
	if l == nil {
		return
	}
	l.Printf(format, args...)
}
