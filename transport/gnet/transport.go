package gnet

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/indigo-web/evhttp/httpconn"
	"github.com/panjf2000/gnet/v2"
)

var (
	_ httpconn.Transport     = new(Transport)
	_ httpconn.Interruptible = new(Transport)
)

// Transport wraps a gnet connection. It's owned by the connection's event loop and must
// never be touched from elsewhere, except for Interrupt.
type Transport struct {
	c        gnet.Conn
	onRead   func()
	onWrite  func()
	queue    []func()
	closeErr error
	running  bool
	closed   bool
	// interrupted makes the read continuation ready regardless of the inbound buffer.
	interrupted atomic.Bool
}

func (t *Transport) Read(b []byte) (int, error) {
	if t.closed {
		return 0, t.closeErr
	}

	n, err := t.c.Read(b)
	if errors.Is(err, io.ErrShortBuffer) {
		return n, httpconn.ErrWouldBlock
	}

	return n, err
}

// Write never blocks: whatever the socket didn't accept is buffered by gnet.
func (t *Transport) Write(b []byte) (int, error) {
	if t.closed {
		return 0, net.ErrClosed
	}

	return t.c.Write(b)
}

func (t *Transport) Close() error {
	if t.closed {
		return nil
	}

	t.closed = true
	t.closeErr = net.ErrClosed

	return t.c.Close()
}

// Interrupt wakes the connection up, so the pending read continuation runs.
func (t *Transport) Interrupt() {
	t.interrupted.Store(true)
	_ = t.c.Wake(nil)
}

func (t *Transport) RemoteAddr() net.Addr {
	return t.c.RemoteAddr()
}

// exec runs the function and everything it queued, unless it's already inside exec.
func (t *Transport) exec(fn func()) {
	if t.running {
		t.queue = append(t.queue, fn)
		return
	}

	t.running = true
	fn()

	for len(t.queue) > 0 {
		queue := t.queue
		t.queue = nil

		for _, cont := range queue {
			cont()
		}
	}

	t.running = false
}

// fire runs pending continuations, which are ready. The transport is always writable, as
// gnet keeps the data the socket didn't accept in its outbound buffer.
func (t *Transport) fire() {
	if cont := t.onWrite; cont != nil {
		t.onWrite = nil
		cont()
	}

	if cont := t.onRead; cont != nil && (t.closed || t.c.InboundBuffered() > 0 || t.interrupted.Swap(false)) {
		t.onRead = nil
		cont()
	}
}

// hangup marks the transport closed by the peer and runs every pending continuation.
func (t *Transport) hangup(err error) {
	if !t.closed {
		t.closed = true
		t.closeErr = err
		if t.closeErr == nil {
			t.closeErr = io.EOF
		}
	}

	t.exec(func() {
		for t.onRead != nil || t.onWrite != nil {
			t.fire()
		}
	})
}

// Scheduler implements httpconn.Scheduler on top of gnet's event loops. Continuations are
// run by OnTraffic, which is triggered either by the incoming data or explicitly by waking
// the connection up.
type Scheduler struct{}

var _ httpconn.Scheduler = Scheduler{}

func (Scheduler) RunOnReadable(tr httpconn.Transport, cont func()) {
	t := tr.(*Transport)
	t.onRead = cont
	if t.closed {
		t.exec(t.fire)
		return
	}

	if t.c.InboundBuffered() > 0 || t.interrupted.Load() {
		_ = t.c.Wake(nil)
	}
}

func (Scheduler) RunOnWritable(tr httpconn.Transport, cont func()) {
	t := tr.(*Transport)
	t.onWrite = cont
	if t.closed {
		t.exec(t.fire)
		return
	}

	_ = t.c.Wake(nil)
}
