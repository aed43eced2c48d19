package session

import (
	"bytes"
	"net"
	"testing"

	"github.com/zrsync/rrsync/internal/rsyncwire"
	"github.com/zrsync/rrsync/rsync"
)

func TestClientServerHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	const compatFlags = rsync.CF_INC_RECURSE | rsync.CF_SAFE_FLIST
	errc := make(chan error, 1)
	var serverCfg Config
	var serverArgs []string
	go func() {
		_, cfg, args, err := ServerHandshake(serverConn, compatFlags)
		serverCfg = cfg
		serverArgs = args
		errc <- err
	}()

	_, clientCfg, err := ClientHandshake(clientConn, []string{"--server", "-e.", "."}, rsync.FileSelectionRecurse)
	if err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("ServerHandshake: %v", err)
	}

	if clientCfg.ChecksumSeed != serverCfg.ChecksumSeed {
		t.Errorf("seed mismatch: client=%d server=%d", clientCfg.ChecksumSeed, serverCfg.ChecksumSeed)
	}
	if clientCfg.CompatFlags != compatFlags {
		t.Errorf("compat flags = %#x, want %#x", clientCfg.CompatFlags, compatFlags)
	}
	if !clientCfg.IsIncRecurse {
		t.Error("IsIncRecurse should be true given CF_INC_RECURSE")
	}
	want := []string{"--server", "-e.", "."}
	if len(serverArgs) != len(want) {
		t.Fatalf("server args = %q, want %q", serverArgs, want)
	}
	for i := range want {
		if serverArgs[i] != want[i] {
			t.Errorf("server args[%d] = %q, want %q", i, serverArgs[i], want[i])
		}
	}
}

func TestClientHandshakeRejectsRecurseWithoutCompatFlag(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	errc := make(chan error, 1)
	go func() {
		_, _, _, err := ServerHandshake(serverConn, 0 /* no CF_INC_RECURSE */)
		errc <- err
	}()

	_, _, err := ClientHandshake(clientConn, []string{"--server"}, rsync.FileSelectionRecurse)
	if err == nil {
		t.Fatal("expected ProtocolError for recurse without CF_INC_RECURSE, got nil")
	}
	<-errc
}

func TestAuthChallengeResponseDeterministic(t *testing.T) {
	a := AuthChallengeResponse([]byte("hunter2"), "abc123")
	b := AuthChallengeResponse([]byte("hunter2"), "abc123")
	if a != b {
		t.Fatalf("response not deterministic: %q != %q", a, b)
	}
	c := AuthChallengeResponse([]byte("hunter2"), "different")
	if a == c {
		t.Fatal("response ignored challenge")
	}
}

func TestArgsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	want := []string{"--server", "--sender", "-logDtpr", ".", "module/path"}
	if err := WriteArgs(c, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadArgs(c)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
