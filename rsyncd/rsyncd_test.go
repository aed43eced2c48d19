package rsyncd_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsyncopts"
	"github.com/zrsync/rrsync/internal/rsynctest"
	"github.com/zrsync/rrsync/internal/session"
	"github.com/zrsync/rrsync/internal/taskexec"
	"github.com/zrsync/rrsync/rsync"
	"github.com/zrsync/rrsync/rsyncd"
)

type fakeAddr struct{ addr string }

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return a.addr }

func TestModuleListing(t *testing.T) {
	t.Parallel()

	mods := []rsyncd.Module{
		{Name: "one", Path: t.TempDir(), Comment: "first module"},
		{Name: "two", Path: t.TempDir()},
	}
	server, err := rsyncd.NewServer(mods, rsyncd.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}

	clientConn, serverConn := rsynctest.Pipe(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.HandleDaemonConn(t.Context(), serverConn, fakeAddr{"127.0.0.1:1"}); err != nil {
			t.Error(err)
		}
	}()

	_, _, err = session.DaemonDial(clientConn, "", nil)
	if err == nil {
		t.Fatal("expected DaemonDial to report the listing as an error condition, got nil")
	}
	wg.Wait()
}

func TestACLDenies(t *testing.T) {
	t.Parallel()

	mod := rsyncd.Module{
		Name: "restricted",
		Path: t.TempDir(),
		ACL:  []string{"deny all"},
	}
	server, err := rsyncd.NewServer([]rsyncd.Module{mod}, rsyncd.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}

	clientConn, serverConn := rsynctest.Pipe(t)

	errc := make(chan error, 1)
	go func() {
		errc <- server.HandleDaemonConn(t.Context(), serverConn, fakeAddr{"10.0.0.5:4000"})
	}()

	_, _, err = session.DaemonDial(clientConn, "restricted", nil)
	if err == nil {
		t.Fatal("expected DaemonDial to fail against a denying ACL")
	}
	if serr := <-errc; serr == nil || !strings.Contains(serr.Error(), "access denied") {
		t.Fatalf("HandleDaemonConn error = %v, want access denied", serr)
	}
}

func TestHandleDaemonConnUnknownModule(t *testing.T) {
	t.Parallel()

	server, err := rsyncd.NewServer(nil, rsyncd.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}

	clientConn, serverConn := rsynctest.Pipe(t)

	errc := make(chan error, 1)
	go func() {
		errc <- server.HandleDaemonConn(t.Context(), serverConn, fakeAddr{"127.0.0.1:1"})
	}()

	_, _, err = session.DaemonDial(clientConn, "nonexistent", nil)
	if err == nil {
		t.Fatal("expected DaemonDial to fail for an unconfigured module")
	}
	<-errc
}

// TestServeConnRoundTrip exercises the plain "--server" calling
// convention end to end, manually building the ARG_EXCHANGE argument list
// the way a spawned "rsync --server" invocation would (distinct local and
// remote-facing paths, as rsyncclient.Client.Run also keeps them).
func TestServeConnRoundTrip(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dest := filepath.Join(tmp, "dest")
	const hello = "hello from ServeConn"
	rsynctest.WriteTree(t, src, []rsynctest.File{{Path: "greeting", Content: hello}})

	clientConn, serverConn := rsynctest.Pipe(t)

	errc := make(chan error, 1)
	go func() {
		errc <- rsyncd.ServeConn(t.Context(), serverConn, log.Discard())
	}()

	c, cfg, err := session.ClientHandshake(clientConn, []string{"--server", "--sender", "-logDtpr", ".", src}, rsync.FileSelectionRecurse)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sink != nil {
		cfg.Sink.Logger = log.Discard()
	}
	if _, err := taskexec.RunRemoteReceive(t.Context(), c, dest, rsyncopts.Options{FileSelection: rsync.FileSelectionRecurse}, cfg.ChecksumSeed, log.Discard(), clientConn.(interface{ Close() error }).Close, cfg.Sink); err != nil {
		t.Fatal(err)
	}

	if serr := <-errc; serr != nil {
		t.Fatalf("ServeConn: %v", serr)
	}

	got := rsynctest.ReadFile(t, dest, "greeting")
	if !bytes.Equal(got, []byte(hello)) {
		t.Errorf("greeting: got %q, want %q", got, hello)
	}
}
