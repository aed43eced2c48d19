package rsyncwire

import "io"

// CountingReader wraps an io.Reader and tallies bytes read, used to feed
// TransferStats.TotalBytesRead without threading a counter through every
// call site.
type CountingReader struct {
	R  io.Reader
	N  int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}

// CountingWriter wraps an io.Writer and tallies bytes written.
type CountingWriter struct {
	W io.Writer
	N int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)
	return n, err
}
