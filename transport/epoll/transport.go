//go:build linux

package epoll

import (
	"io"
	"net"
	"os"
	"sync/atomic"

	"github.com/indigo-web/evhttp/httpconn"
	"golang.org/x/sys/unix"
)

var (
	_ httpconn.Transport     = new(Transport)
	_ httpconn.Interruptible = new(Transport)
)

// Transport is a non-blocking socket owned by a single event loop. All of its methods but
// Interrupt must be called from the loop's goroutine.
type Transport struct {
	fd      int
	loop    *loop
	onRead  func()
	onWrite func()
	// added is set once the descriptor joined the epoll interest list.
	added  bool
	closed bool
	// interrupted makes the next read registration fire regardless of the readiness.
	interrupted atomic.Bool
}

func (t *Transport) Read(b []byte) (int, error) {
	if t.closed {
		return 0, net.ErrClosed
	}

	for {
		n, err := unix.Read(t.fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, httpconn.ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0 && len(b) > 0:
			return 0, io.EOF
		}

		return n, nil
	}
}

func (t *Transport) Write(b []byte) (int, error) {
	if t.closed {
		return 0, net.ErrClosed
	}

	for {
		n, err := unix.Write(t.fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, httpconn.ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("write", err)
		}

		return n, nil
	}
}

// Close removes the descriptor from the loop and closes it. Pending continuations are
// run by the loop shortly after.
func (t *Transport) Close() error {
	return t.loop.close(t)
}

// Interrupt fires the pending read continuation on the loop.
func (t *Transport) Interrupt() {
	t.interrupted.Store(true)
	t.loop.post(func() {
		t.loop.interrupt(t)
	})
}
