// Package evhttp serves HTTP/1.x connections driven by continuations instead of a
// goroutine blocked per connection.
package evhttp

import (
	"context"
	"net"
	"sync"

	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/httpconn"
	"github.com/indigo-web/evhttp/internal/address"
	"github.com/indigo-web/evhttp/internal/metrics"
	"github.com/indigo-web/evhttp/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// App wires the backends, the configuration and the handlers together.
type App struct {
	addr      string
	backend   Backend
	listeners []listener
	cfg       *config.Config
	log       *zap.Logger
	registry  prometheus.Registerer
	hooks     hooks
	sup       *transport.Supervisor
	factory   httpconn.HandlerFactory
	metrics   *metrics.Metrics

	mu    sync.Mutex
	live  int
	conns map[*httpconn.Connection]struct{}
	// idle is closed whenever there are no live connections.
	idle     chan struct{}
	draining bool

	stopOnce sync.Once
	// done is closed once Stop finished terminating the backends.
	done chan struct{}
}

// New returns a new App, listening on the address using the NetConn backend unless
// another one is set.
func New(addr string) *App {
	idle := make(chan struct{})
	close(idle)

	return &App{
		addr:    address.Normalize(addr),
		backend: NetConn(),
		cfg:     config.Default(),
		log:     zap.NewNop(),
		sup:     transport.NewSupervisor(),
		conns:   make(map[*httpconn.Connection]struct{}),
		idle:    idle,
		done:    make(chan struct{}),
	}
}

// Tune replaces the default configuration.
func (a *App) Tune(cfg *config.Config) *App {
	a.cfg = cfg
	return a
}

func (a *App) Logger(log *zap.Logger) *App {
	a.log = log
	return a
}

// Metrics registers connection and request metrics in the registry.
func (a *App) Metrics(reg prometheus.Registerer) *App {
	a.registry = reg
	return a
}

// Backend replaces the backend serving the main address.
func (a *App) Backend(b Backend) *App {
	a.backend = b
	return a
}

// Listen adds one more address to be served by the backend.
func (a *App) Listen(addr string, b Backend) *App {
	a.listeners = append(a.listeners, listener{addr: address.Normalize(addr), backend: b})
	return a
}

// NotifyOnBind calls the callback with the actual addresses, once every listener is bound.
func (a *App) NotifyOnBind(cb func(addrs []net.Addr)) *App {
	a.hooks.OnBind = cb
	return a
}

// NotifyOnStop calls the callback once every backend is terminated.
func (a *App) NotifyOnStop(cb func()) *App {
	a.hooks.OnStop = cb
	return a
}

// Serve binds every listener and serves connections until Stop is called. If the
// application failed, its connections are closed right away.
func (a *App) Serve(f httpconn.HandlerFactory) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	if a.registry != nil {
		a.metrics = metrics.New(a.registry)
	}

	a.factory = f
	listeners := append([]listener{{addr: a.addr, backend: a.backend}}, a.listeners...)
	for _, l := range listeners {
		if err := a.sup.Add(l.addr, l.backend(a.cfg, a.log)); err != nil {
			return err
		}
	}

	addrs := a.sup.Addrs()
	for _, addr := range addrs {
		a.log.Info("listening", zap.Stringer("addr", addr))
	}

	callIfNotNil(a.hooks.OnBind, addrs)

	if err := a.sup.Run(a.spawn); err != nil {
		a.log.Error("backend failed", zap.Error(err))
		a.sup.Terminate()
		return err
	}

	<-a.done
	if a.hooks.OnStop != nil {
		a.hooks.OnStop()
	}

	return nil
}

// Stop stops accepting new connections and waits until the live ones are done. Idle
// connections are closed right away, the rest are closed as soon as their current request
// is served. When the context is done earlier, the remaining connections are closed
// forcefully and the context's error is returned.
func (a *App) Stop(ctx context.Context) (err error) {
	a.stopOnce.Do(func() {
		a.sup.Stop()
		a.startDraining()
		err = a.drain(ctx)
		if err != nil {
			a.log.Warn("closing live connections forcefully", zap.Int("live", a.Live()))
		}

		a.sup.Terminate()
		close(a.done)
	})

	return err
}

// Live returns the number of connections which aren't released yet.
func (a *App) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.live
}

func (a *App) spawn(t httpconn.Transport, s httpconn.Scheduler) {
	a.mu.Lock()
	if a.live == 0 {
		a.idle = make(chan struct{})
	}
	a.live++
	a.mu.Unlock()

	httpconn.Start(t, s, a.factory, httpconn.Options{
		Config:    a.cfg,
		Logger:    a.log,
		Metrics:   a.metrics,
		OnOpen:    a.track,
		OnRelease: a.release,
	})
}

func (a *App) track(c *httpconn.Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.conns[c] = struct{}{}
	if a.draining {
		c.Drain()
	}
}

func (a *App) release(c *httpconn.Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.conns, c)
	a.live--
	if a.live == 0 {
		close(a.idle)
	}
}

func (a *App) startDraining() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.draining = true
	for c := range a.conns {
		c.Drain()
	}
}

func (a *App) drain(ctx context.Context) error {
	a.mu.Lock()
	idle := a.idle
	a.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type listener struct {
	addr    string
	backend Backend
}

type hooks struct {
	OnBind func([]net.Addr)
	OnStop func()
}

func callIfNotNil[T any](f func(T), arg T) {
	if f != nil {
		f(arg)
	}
}
