package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zrsync/rrsync/internal/rsyncerr"
	"github.com/zrsync/rrsync/internal/rsyncwire"
)

// ErrModuleListing is returned by DaemonGreet when the client requested the
// module listing (an empty or "#list" module name) rather than a transfer;
// listModules has already written the listing and the EXIT line, so the
// caller's only remaining job is to close the connection.
var ErrModuleListing = errors.New("client requested module listing")

const (
	authReqdPrefix = "@RSYNCD: AUTHREQD "
	okLine         = "@RSYNCD: OK\n"
	exitLine       = "@RSYNCD: EXIT\n"
	errorPrefix    = "@ERROR"
)

// DaemonDial drives the client side of the daemon socket state machine
// (spec.md §4.5): VERSION_EXCHANGE -> MODULE_REQUEST ->
// GREETING_LINES/AUTHREQ* -> OK|ERROR|EXIT. On success it leaves the
// connection positioned right after "@RSYNCD: OK\n", ready for
// ClientArgsCompatSeed's ARG_EXCHANGE step. module is the bare module name
// (no path suffix); auth is consulted only if the server challenges.
func DaemonDial(rawConn io.ReadWriter, module string, auth AuthProvider) (*rsyncwire.Conn, int32, error) {
	rd := bufio.NewReader(rawConn)
	wr := &rsyncwire.Conn{Writer: rawConn}

	negotiated, err := ExchangeVersion(rd, wr)
	if err != nil {
		return nil, 0, err
	}

	if err := wr.WriteString(module + "\n"); err != nil {
		return nil, 0, err
	}
	if err := wr.Flush(); err != nil {
		return nil, 0, err
	}

	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return nil, 0, rsyncerr.NewModuleError("reading daemon greeting: %v", err)
		}
		switch {
		case line == okLine:
			return &rsyncwire.Conn{Reader: rd, Writer: rawConn}, negotiated, nil
		case line == exitLine:
			return nil, 0, rsyncerr.NewModuleError("daemon closed the connection (EXIT)")
		case strings.HasPrefix(line, errorPrefix):
			return nil, 0, rsyncerr.NewModuleError("daemon error: %s", strings.TrimSpace(strings.TrimPrefix(line, errorPrefix+":")))
		case strings.HasPrefix(line, authReqdPrefix):
			challenge := strings.TrimSpace(strings.TrimPrefix(line, authReqdPrefix))
			if auth == nil {
				return nil, 0, rsyncerr.NewModuleError("module %q requires authentication, no credentials supplied", module)
			}
			response := AuthChallengeResponse(auth.Password(), challenge)
			if err := wr.WriteString(fmt.Sprintf("%s %s\n", auth.User(), response)); err != nil {
				return nil, 0, err
			}
			if err := wr.Flush(); err != nil {
				return nil, 0, err
			}
		default:
			// Informational banner line; keep reading until OK/ERROR/EXIT.
		}
	}
}

// ModuleAuthenticator answers whether a presented response matches what a
// given user/challenge combination should have produced for one module
// (spec.md §6, "Daemon config", "authenticate(authContext, user)-> expected
// response").
type ModuleAuthenticator interface {
	Authenticate(user, challenge string) (expectedResponse string, ok bool)
}

// DaemonGreet drives the server side of the daemon socket state machine
// for one already-accepted connection: version exchange, reading the
// requested module name, checkAccess (e.g. an ACL keyed on the remote
// address) and the challenge-response round trip (if moduleAuth returns
// non-nil), writing informational lines plus OK/ERROR/EXIT as appropriate.
// checkAccess runs before OK is written, not after: a caller that denies
// access there must never let the client see OK and proceed into
// ARG_EXCHANGE. The returned negotiated version and *rsyncwire.Conn feed
// straight into ServerArgsCompatSeed, the same tail ServerHandshake uses
// for the plain (non-daemon) "--server" path. If the client requests the
// module listing (empty or "#list") and listModules is non-nil, its return
// value is written out followed by the EXIT line and DaemonGreet returns
// ErrModuleListing.
func DaemonGreet(rawConn io.ReadWriter, knownModules []string, moduleAuth func(module string) ModuleAuthenticator, listModules func() string, checkAccess func(module string) error) (module string, c *rsyncwire.Conn, negotiated int32, err error) {
	rd := bufio.NewReader(rawConn)
	cwr := &rsyncwire.CountingWriter{W: rawConn}
	wr := &rsyncwire.Conn{Writer: cwr}

	negotiated, err = ExchangeVersion(rd, wr)
	if err != nil {
		return "", nil, 0, err
	}

	line, err := rd.ReadString('\n')
	if err != nil {
		return "", nil, 0, rsyncerr.NewModuleError("reading module request: %v", err)
	}
	module = strings.TrimSpace(line)

	c = &rsyncwire.Conn{Reader: &rsyncwire.CountingReader{R: rd}, Writer: cwr}

	if (module == "" || module == "#list") && listModules != nil {
		if err := writeLine(wr, listModules()); err != nil {
			return module, c, negotiated, err
		}
		if err := writeLine(wr, exitLine); err != nil {
			return module, c, negotiated, err
		}
		return module, c, negotiated, ErrModuleListing
	}

	found := false
	for _, m := range knownModules {
		if m == module {
			found = true
			break
		}
	}
	if !found {
		writeLine(wr, "@ERROR: Unknown module '"+module+"'\n")
		return module, c, negotiated, rsyncerr.NewModuleError("unknown module %q", module)
	}

	if checkAccess != nil {
		if err := checkAccess(module); err != nil {
			writeLine(wr, "@ERROR: "+err.Error()+"\n")
			return module, c, negotiated, err
		}
	}

	if authn := moduleAuth(module); authn != nil {
		challenge, err := NewChallenge()
		if err != nil {
			return module, c, negotiated, err
		}
		if err := writeLine(wr, authReqdPrefix+challenge+"\n"); err != nil {
			return module, c, negotiated, err
		}
		resp, err := rd.ReadString('\n')
		if err != nil {
			return module, c, negotiated, rsyncerr.NewModuleError("reading auth response: %v", err)
		}
		fields := strings.SplitN(strings.TrimSpace(resp), " ", 2)
		if len(fields) != 2 {
			writeLine(wr, "@ERROR: malformed auth response\n")
			return module, c, negotiated, rsyncerr.NewModuleError("malformed auth response from client")
		}
		expected, ok := authn.Authenticate(fields[0], challenge)
		if !ok || fields[1] != expected {
			writeLine(wr, "@ERROR: auth failed for module '"+module+"'\n")
			return module, c, negotiated, rsyncerr.NewModuleError("authentication failed for module %q", module)
		}
	}

	if err := writeLine(wr, okLine); err != nil {
		return module, c, negotiated, err
	}
	return module, c, negotiated, nil
}

func writeLine(wr *rsyncwire.Conn, s string) error {
	if err := wr.WriteString(s); err != nil {
		return err
	}
	return wr.Flush()
}
