package netconn

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/transport"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

var _ transport.Backend = new(Server)

// Server accepts connections on a plain net.Listener and serves every one of them with
// goroutines, which block on behalf of the connection.
type Server struct {
	cfg   *config.Config
	log   *zap.Logger
	l     net.Listener
	sched *Scheduler
	stop  atomic.Bool
	mu    sync.Mutex
	live  map[*Transport]struct{}
}

func New(cfg *config.Config, log *zap.Logger) *Server {
	return &Server{
		cfg:   cfg,
		log:   log,
		sched: &Scheduler{ReadTimeout: cfg.NET.ReadTimeout},
		live:  make(map[*Transport]struct{}),
	}
}

func (s *Server) Bind(addr string) (err error) {
	s.l, err = net.Listen("tcp", addr)
	return err
}

func (s *Server) Addr() net.Addr {
	return s.l.Addr()
}

// Serve runs the accept loop until Stop is called. Failures caused by the lack of resources,
// e.g. file descriptors, are retried after a growing pause.
func (s *Server) Serve(spawn transport.Spawn) error {
	b := &backoff.Backoff{
		Min:    s.cfg.NET.AcceptBackoff.Min,
		Max:    s.cfg.NET.AcceptBackoff.Max,
		Factor: 2,
		Jitter: true,
	}

	for {
		conn, err := s.l.Accept()
		if err != nil {
			if s.stop.Load() {
				return nil
			}

			if !temporary(err) {
				return err
			}

			pause := b.Duration()
			s.log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("pause", pause))
			time.Sleep(pause)
			continue
		}

		b.Reset()
		spawn(s.track(conn), s.sched)
	}
}

// Stop stops accepting new connections. Already accepted ones are served further.
func (s *Server) Stop() {
	if s.stop.Swap(true) {
		return
	}

	_ = s.l.Close()
}

// Terminate closes every live connection. Pending continuations observe the failure and
// release their connections.
func (s *Server) Terminate() {
	s.mu.Lock()
	live := make([]*Transport, 0, len(s.live))
	for t := range s.live {
		live = append(live, t)
	}
	s.mu.Unlock()

	for _, t := range live {
		_ = t.conn.Close()
	}
}

func (s *Server) track(conn net.Conn) *Transport {
	t := NewTransport(conn, s.cfg.NET.ReadBufferSize)
	t.onClose = s.untrack

	s.mu.Lock()
	s.live[t] = struct{}{}
	s.mu.Unlock()

	return t
}

func (s *Server) untrack(t *Transport) {
	s.mu.Lock()
	delete(s.live, t)
	s.mu.Unlock()
}

func temporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ENOBUFS)
}
