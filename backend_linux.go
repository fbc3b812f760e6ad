package evhttp

import (
	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/transport"
	"github.com/indigo-web/evhttp/transport/epoll"
	"go.uber.org/zap"
)

// Epoll serves connections with a fixed number of epoll-driven event loops.
func Epoll() Backend {
	return func(cfg *config.Config, log *zap.Logger) transport.Backend {
		return epoll.New(cfg, log)
	}
}
