//go:build linux

// Package epoll implements a reactor backend for linux. Connections are distributed across
// a fixed number of event loops, each owning its epoll instance and running continuations
// of its transports on a single goroutine.
package epoll

import (
	"errors"
	"net"
	"os"
	"sync"

	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/transport"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var ErrNotBound = errors.New("server is not bound")

var _ transport.Backend = new(Server)

type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	addr     net.Addr
	loops    []*loop
	acceptor *acceptor
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
	termOnce sync.Once
	running  bool
}

func New(cfg *config.Config, log *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		stopped: make(chan struct{}),
	}
}

// Bind opens the listening socket and prepares the event loops.
func (s *Server) Bind(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	defer l.Close()
	s.addr = l.Addr()

	fd, err := dupListener(l.(*net.TCPListener))
	if err != nil {
		return err
	}

	for range s.cfg.NET.EventLoops {
		lp, err := newLoop(s.log)
		if err != nil {
			_ = unix.Close(fd)
			s.releaseLoops()
			return err
		}

		s.loops = append(s.loops, lp)
	}

	s.acceptor = &acceptor{
		fd:    fd,
		loop:  s.loops[0],
		loops: s.loops,
		backoff: &backoff.Backoff{
			Min:    s.cfg.NET.AcceptBackoff.Min,
			Max:    s.cfg.NET.AcceptBackoff.Max,
			Factor: 2,
			Jitter: true,
		},
	}
	s.loops[0].acceptor = s.acceptor

	if err = s.acceptor.register(); err != nil {
		_ = unix.Close(fd)
		s.releaseLoops()
		return err
	}

	return nil
}

func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve runs the event loops and blocks until Stop is called. The loops keep serving
// already accepted connections until Terminate.
func (s *Server) Serve(spawn transport.Spawn) error {
	if s.acceptor == nil {
		return ErrNotBound
	}

	s.acceptor.spawn = spawn
	s.running = true
	errCh := make(chan error, len(s.loops))

	for _, lp := range s.loops {
		s.wg.Add(1)
		go func(lp *loop) {
			defer s.wg.Done()
			if err := lp.run(); err != nil {
				errCh <- err
			}
		}(lp)
	}

	select {
	case <-s.stopped:
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop closes the listening socket. Already accepted connections are served further.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.acceptor != nil && !s.loops[0].post(s.acceptor.close) {
			s.acceptor.close()
		}

		close(s.stopped)
	})
}

// Terminate closes every live connection, stops the loops and waits until they exit.
func (s *Server) Terminate() {
	s.termOnce.Do(func() {
		if len(s.loops) == 0 {
			return
		}

		if !s.running {
			s.acceptor.close()
			s.releaseLoops()
			return
		}

		// the acceptor must be closed before the loops are shut down, otherwise a freshly
		// accepted connection might be posted to a loop that has already exited
		s.loops[0].post(func() {
			s.acceptor.close()
			for _, lp := range s.loops {
				lp.post(lp.shutdown)
			}
		})

		s.wg.Wait()
		s.releaseLoops()
	})
}

func (s *Server) releaseLoops() {
	for _, lp := range s.loops {
		lp.release()
	}
}

// dupListener returns a non-blocking duplicate of the listener's descriptor.
func dupListener(l *net.TCPListener) (fd int, err error) {
	raw, err := l.SyscallConn()
	if err != nil {
		return -1, err
	}

	var dupErr error
	err = raw.Control(func(orig uintptr) {
		fd, dupErr = unix.Dup(int(orig))
	})
	if err != nil {
		return -1, err
	}

	if dupErr != nil {
		return -1, os.NewSyscallError("dup", dupErr)
	}

	unix.CloseOnExec(fd)
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("setnonblock", err)
	}

	return fd, nil
}
