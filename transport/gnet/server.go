// Package gnet serves connections using the gnet networking engine.
package gnet

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/transport"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"
)

var ErrNotBound = errors.New("server is not bound")

var _ transport.Backend = new(Server)

// Server is a gnet event handler, spawning a connection for every opened gnet.Conn.
type Server struct {
	gnet.BuiltinEventEngine

	cfg      *config.Config
	log      *zap.Logger
	addr     *net.TCPAddr
	spawn    transport.Spawn
	eng      gnet.Engine
	booted   chan struct{}
	finished chan struct{}
	runErr   error
	serving  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
	termOnce sync.Once
}

func New(cfg *config.Config, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		booted:   make(chan struct{}),
		finished: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Bind resolves the address. The socket itself is opened by Serve, therefore a zero port
// isn't resolved into the actual one.
func (s *Server) Bind(addr string) (err error) {
	s.addr, err = net.ResolveTCPAddr("tcp", addr)
	return err
}

func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve runs the engine and blocks until Stop is called or the engine fails to start.
func (s *Server) Serve(spawn transport.Spawn) error {
	if s.addr == nil {
		return ErrNotBound
	}

	s.spawn = spawn
	s.serving.Store(true)

	go func() {
		defer close(s.finished)

		s.runErr = gnet.Run(s, "tcp://"+s.addr.String(),
			gnet.WithMulticore(true),
			gnet.WithNumEventLoop(s.cfg.NET.EventLoops),
			gnet.WithReadBufferCap(s.cfg.NET.ReadBufferSize),
			gnet.WithTCPNoDelay(gnet.TCPNoDelay),
			gnet.WithReuseAddr(true),
			gnet.WithLogger(s.log.Sugar()),
		)
	}()

	select {
	case <-s.stopped:
		return nil
	case <-s.finished:
		return s.runErr
	}
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	close(s.booted)
	s.log.Info("gnet engine started", zap.Stringer("addr", s.addr))

	return gnet.None
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if s.stopping.Load() {
		return nil, gnet.Close
	}

	t := &Transport{c: c}
	c.SetContext(t)
	t.exec(func() {
		s.spawn(t, Scheduler{})
	})

	return nil, gnet.None
}

func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	t, ok := c.Context().(*Transport)
	if !ok {
		return gnet.Close
	}

	t.exec(t.fire)

	return gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	if t, ok := c.Context().(*Transport); ok {
		t.hangup(err)
	}

	return gnet.None
}

// Stop makes the server reject new connections. The listener is kept open until Terminate.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		close(s.stopped)
	})
}

// Terminate stops the engine, which closes every live connection, and waits until it exits.
func (s *Server) Terminate() {
	s.termOnce.Do(func() {
		s.Stop()
		if !s.serving.Load() {
			return
		}

		select {
		case <-s.booted:
		case <-s.finished:
			return
		}

		if err := s.eng.Stop(context.Background()); err != nil {
			s.log.Warn("cannot stop gnet engine", zap.Error(err))
		}

		<-s.finished
	})
}
