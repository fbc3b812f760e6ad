package dummy

import (
	"io"
	"net"
	"slices"

	"github.com/indigo-web/evhttp/httpconn"
)

var (
	_ httpconn.Transport     = new(Transport)
	_ httpconn.Interruptible = new(Transport)
)

// Transport is an in-memory transport. Reads are served from the scripted pieces, each
// Read returning at most one of them. Once the pieces are exhausted, the transport is
// not readable until either more data is fed or Hangup is called, after which Read reports
// io.EOF. Everything written is journaled.
type Transport struct {
	pieces     [][]byte
	written    []byte
	writes     int
	closes     int
	writeLimit int
	eof        bool
	interrupts int
	ReadErr    error
	WriteErr   error
}

func NewTransport(pieces ...string) *Transport {
	t := new(Transport)
	t.Feed(pieces...)

	return t
}

// Feed appends more pieces to be read.
func (t *Transport) Feed(pieces ...string) *Transport {
	for _, piece := range pieces {
		t.pieces = append(t.pieces, []byte(piece))
	}

	return t
}

// Hangup makes the transport report io.EOF once the pieces are exhausted.
func (t *Transport) Hangup() *Transport {
	t.eof = true
	return t
}

// WriteLimit restricts the number of bytes accepted by a single Write call.
func (t *Transport) WriteLimit(n int) *Transport {
	t.writeLimit = n
	return t
}

// Readable reports whether a Read wouldn't block.
func (t *Transport) Readable() bool {
	return len(t.pieces) > 0 || t.eof || t.ReadErr != nil || t.closes > 0 || t.interrupts > 0
}

// Interrupt makes the transport readable once, even if there's nothing to read.
func (t *Transport) Interrupt() {
	t.interrupts++
}

func (t *Transport) Read(b []byte) (int, error) {
	switch {
	case t.closes > 0:
		return 0, net.ErrClosed
	case t.ReadErr != nil:
		return 0, t.ReadErr
	case len(t.pieces) == 0:
		if t.eof {
			return 0, io.EOF
		}

		if t.interrupts > 0 {
			t.interrupts--
			return 0, httpconn.ErrWouldBlock
		}

		panic("dummy transport: read would block")
	}

	n := copy(b, t.pieces[0])
	if t.pieces[0] = t.pieces[0][n:]; len(t.pieces[0]) == 0 {
		t.pieces = slices.Delete(t.pieces, 0, 1)
	}

	return n, nil
}

func (t *Transport) Write(b []byte) (int, error) {
	if t.closes > 0 {
		return 0, net.ErrClosed
	}

	if t.WriteErr != nil {
		return 0, t.WriteErr
	}

	n := len(b)
	if t.writeLimit > 0 {
		n = min(n, t.writeLimit)
	}

	t.writes++
	t.written = append(t.written, b[:n]...)

	return n, nil
}

func (t *Transport) Close() error {
	t.closes++
	return nil
}

// Written returns everything written so far.
func (t *Transport) Written() string {
	return string(t.written)
}

// Writes returns the number of Write calls.
func (t *Transport) Writes() int {
	return t.writes
}

// Closes returns the number of Close calls.
func (t *Transport) Closes() int {
	return t.closes
}
