// Package rsynctest provides small fixtures shared by the package tests
// across this module: an in-memory full-duplex pipe standing in for a real
// socket, and directory-tree builders so each test doesn't hand-roll its own
// os.MkdirAll/os.WriteFile boilerplate.
package rsynctest

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
)

// Pipe returns two connected io.ReadWriters, one per side of a transfer,
// backed by net.Pipe. Unlike io.Pipe, each end supports both Read and
// Write, matching the single full-duplex rw the session package expects
// (internal/session.ClientHandshake/ServerHandshake take one io.ReadWriter,
// not a separate reader/writer pair).
func Pipe(tb testing.TB) (client, server io.ReadWriter) {
	tb.Helper()
	c, s := net.Pipe()
	tb.Cleanup(func() {
		c.Close()
		s.Close()
	})
	return c, s
}

// File is one fixture entry for WriteTree: a relative path and its desired
// content. Entries naming a path with no directory component are written
// directly under root.
type File struct {
	Path    string
	Content string
	Mode    os.FileMode
}

// WriteTree materializes files under dir, creating any intermediate
// directories. A zero Mode defaults to 0644.
func WriteTree(tb testing.TB, dir string, files []File) {
	tb.Helper()
	for _, f := range files {
		full := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			tb.Fatalf("MkdirAll(%s): %v", filepath.Dir(full), err)
		}
		mode := f.Mode
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(full, []byte(f.Content), mode); err != nil {
			tb.Fatalf("WriteFile(%s): %v", full, err)
		}
	}
}

// ReadFile reads path relative to dir, failing the test on any error; a
// small convenience for the common "assert file made it across" check.
func ReadFile(tb testing.TB, dir, path string) []byte {
	tb.Helper()
	b, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		tb.Fatalf("ReadFile(%s): %v", path, err)
	}
	return b
}
