// Command evhttpd is a small HTTP server demonstrating the evhttp connection machinery.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/indigo-web/evhttp"
	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/httpconn"
	"github.com/indigo-web/evhttp/internal/address"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var backends = map[string]func() evhttp.Backend{
	"netconn": evhttp.NetConn,
	"epoll":   evhttp.Epoll,
	"gnet":    evhttp.Gnet,
}

func main() {
	addr := flag.String("addr", "0.0.0.0:8080", "address to serve HTTP on")
	configPath := flag.String("config", "", "path to a JSON configuration file")
	backendName := flag.String("backend", "netconn", "networking backend: netconn, epoll or gnet")
	metricsAddr := flag.String("metrics", "", "address to expose prometheus metrics on")
	gracePeriod := flag.Duration("grace", 10*time.Second, "how long to wait for live connections on shutdown")
	development := flag.Bool("dev", false, "use the human-friendly logger")
	flag.Parse()

	log, err := newLogger(*development)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot initialize logger:", err)
		os.Exit(1)
	}

	defer log.Sync()

	if err = run(log, *addr, *configPath, *backendName, *metricsAddr, *gracePeriod); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(log *zap.Logger, addr, configPath, backendName, metricsAddr string, grace time.Duration) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	backend, ok := backends[backendName]
	if !ok {
		return fmt.Errorf("unknown backend: %q", backendName)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := evhttp.New(addr).
		Tune(cfg).
		Logger(log).
		Metrics(reg).
		Backend(backend())

	if metricsAddr != "" {
		if !address.IsLocalhost(metricsAddr) {
			log.Warn("metrics are exposed on a non-loopback address", zap.String("addr", metricsAddr))
		}

		srv := &stdhttp.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()

		defer srv.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		log.Info("shutting down", zap.Duration("grace", grace))

		stopCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		if err := app.Stop(stopCtx); err != nil {
			log.Warn("graceful shutdown interrupted", zap.Error(err))
		}
	}()

	h := handlers{log: log}

	return app.Serve(httpconn.HandlerFunc(h.route))
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
