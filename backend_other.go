//go:build !linux

package evhttp

import (
	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/transport"
	"go.uber.org/zap"
)

// Epoll falls back to the NetConn backend, as epoll is available on linux only.
func Epoll() Backend {
	return func(cfg *config.Config, log *zap.Logger) transport.Backend {
		log.Warn("epoll backend isn't supported on this platform, falling back to netconn")
		return NetConn()(cfg, log)
	}
}
