package rsyncclient_test

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zrsync/rrsync/internal/log"
	"github.com/zrsync/rrsync/internal/rsynctest"
	"github.com/zrsync/rrsync/rsyncclient"
	"github.com/zrsync/rrsync/rsyncd"
)

// TestClientUpload drives rsyncclient.Client as the Sender against
// rsyncd.ServeConn playing Receiver, the plain "--server" calling
// convention with distinct local read and remote write directories (as a
// locally spawned "rsync --server" subprocess would see, not a module).
func TestClientUpload(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dest := filepath.Join(tmp, "dest")
	const hello = "world"
	rsynctest.WriteTree(t, src, []rsynctest.File{{Path: "hello", Content: hello}})

	clientConn, serverConn := rsynctest.Pipe(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rsyncd.ServeConn(t.Context(), serverConn, log.Discard()); err != nil {
			t.Error(err)
		}
	}()

	client, err := rsyncclient.New([]string{"-av"}, rsyncclient.WithSender())
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Run(context.Background(), clientConn, []string{src}, dest); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	got := rsynctest.ReadFile(t, dest, "hello")
	if !bytes.Equal(got, []byte(hello)) {
		t.Errorf("hello: got %q, want %q", got, hello)
	}
}

// TestClientDownload is TestClientUpload in reverse: the client receives,
// ServeConn plays Sender (opts.Sender decoded from the "--sender" flag
// rsyncclient emits when its own Client is not the sender).
func TestClientDownload(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dest := filepath.Join(tmp, "dest")
	const hello = "world"
	rsynctest.WriteTree(t, src, []rsynctest.File{{Path: "hello", Content: hello}})

	clientConn, serverConn := rsynctest.Pipe(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rsyncd.ServeConn(t.Context(), serverConn, log.Discard()); err != nil {
			t.Error(err)
		}
	}()

	client, err := rsyncclient.New([]string{"-av"})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Run(context.Background(), clientConn, []string{dest}, src); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	got := rsynctest.ReadFile(t, dest, "hello")
	if !bytes.Equal(got, []byte(hello)) {
		t.Errorf("hello: got %q, want %q", got, hello)
	}
}
