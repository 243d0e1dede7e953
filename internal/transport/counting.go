package transport

import (
	"io"
	"sync/atomic"
)

// CountingWriter passes writes through to w and tallies the bytes accepted.
type CountingWriter struct {
	w     io.Writer
	count atomic.Int64
}

// NewCountingWriter returns a CountingWriter wrapping w.
func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.count.Add(int64(n))
	return n, err
}

// Count returns the number of bytes written so far.
func (cw *CountingWriter) Count() int64 {
	return cw.count.Load()
}
