package netconn

import (
	"bufio"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/indigo-web/evhttp/httpconn"
)

var (
	_ httpconn.Transport     = new(Transport)
	_ httpconn.Interruptible = new(Transport)
	_ httpconn.Scheduler     = new(Scheduler)
)

// Transport adapts a blocking net.Conn. Readiness is awaited by a goroutine peeking into
// the buffered reader, so by the time the continuation runs, Read returns the buffered data
// without blocking.
type Transport struct {
	conn   net.Conn
	reader *bufio.Reader
	// mu serializes the continuations of the transport.
	mu sync.Mutex
	// peekErr is the error the last readiness wait ended with. The reader doesn't keep it.
	peekErr     error
	interrupted atomic.Bool
	onClose     func(*Transport)
}

func NewTransport(conn net.Conn, readBufferSize int) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, readBufferSize),
	}
}

func (t *Transport) Read(b []byte) (int, error) {
	if t.reader.Buffered() == 0 {
		if t.peekErr != nil {
			return 0, t.peekErr
		}

		return 0, httpconn.ErrWouldBlock
	}

	return t.reader.Read(b)
}

// Write blocks until everything is written, so partial writes are reported only along
// with an error.
func (t *Transport) Write(b []byte) (int, error) {
	return t.conn.Write(b)
}

func (t *Transport) Close() error {
	if t.onClose != nil {
		t.onClose(t)
	}

	return t.conn.Close()
}

// Interrupt fires the pending readiness wait by moving the read deadline to the past.
func (t *Transport) Interrupt() {
	t.interrupted.Store(true)
	_ = t.conn.SetReadDeadline(time.Now())
}

func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Scheduler runs every continuation in its own goroutine. Continuations of a single
// transport are serialized by the transport's mutex.
type Scheduler struct {
	// ReadTimeout closes idle connections: if nothing arrives within it, the pending read
	// continuation observes a timeout error.
	ReadTimeout time.Duration
}

func (s *Scheduler) RunOnReadable(t httpconn.Transport, cont func()) {
	tr := t.(*Transport)

	go func() {
		var deadline time.Time
		if s.ReadTimeout > 0 {
			deadline = time.Now().Add(s.ReadTimeout)
		}

		_ = tr.conn.SetReadDeadline(deadline)
		if tr.interrupted.Load() {
			_ = tr.conn.SetReadDeadline(time.Now())
		}

		_, err := tr.reader.Peek(1)
		if tr.interrupted.Swap(false) && errors.Is(err, os.ErrDeadlineExceeded) {
			err = nil
		}

		tr.run(func() {
			tr.peekErr = err
			cont()
		})
	}()
}

func (s *Scheduler) RunOnWritable(t httpconn.Transport, cont func()) {
	tr := t.(*Transport)
	go tr.run(cont)
}

func (t *Transport) run(cont func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cont()
}
