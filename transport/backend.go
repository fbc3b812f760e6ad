// Package transport defines the contract between the application and the networking
// backends, which accept connections and schedule their continuations.
package transport

import (
	"net"

	"github.com/indigo-web/evhttp/httpconn"
)

// Spawn is called by a backend for every accepted connection, on the goroutine, which is
// going to run the connection's continuations.
type Spawn func(t httpconn.Transport, s httpconn.Scheduler)

type Backend interface {
	// Bind opens the listening socket.
	Bind(addr string) error
	Addr() net.Addr
	// Serve accepts connections until Stop is called.
	Serve(spawn Spawn) error
	// Stop stops accepting new connections. The accepted ones are served further.
	Stop()
	// Terminate closes every live connection and releases the backend's resources.
	Terminate()
}
