package evhttp

import (
	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/transport"
	"github.com/indigo-web/evhttp/transport/gnet"
	"github.com/indigo-web/evhttp/transport/netconn"
	"go.uber.org/zap"
)

// Backend constructs a networking backend once the application is started.
type Backend func(cfg *config.Config, log *zap.Logger) transport.Backend

// NetConn serves connections using the standard net package. Every pending continuation
// is backed by a goroutine. Supports idle timeouts.
func NetConn() Backend {
	return func(cfg *config.Config, log *zap.Logger) transport.Backend {
		return netconn.New(cfg, log)
	}
}

// Gnet serves connections using the gnet engine. The address must have a non-zero port.
func Gnet() Backend {
	return func(cfg *config.Config, log *zap.Logger) transport.Backend {
		return gnet.New(cfg, log)
	}
}
