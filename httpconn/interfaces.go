package httpconn

import "github.com/indigo-web/evhttp/http"

// Transport is a non-blocking byte stream, usually a TCP socket. Read and Write transfer as
// much as currently possible and never wait for the peer.
type Transport interface {
	Read(b []byte) (n int, err error)
	Write(b []byte) (n int, err error)
	Close() error
}

// Interruptible is implemented by transports whose pending read registration can be fired
// ahead of time. Interrupt is safe to call from any goroutine, even after the transport is
// closed. The woken continuation's Read reports ErrWouldBlock unless data arrived meanwhile.
// If no read is pending, the next registration fires right away.
type Interruptible interface {
	Interrupt()
}

// Scheduler runs a continuation once the transport becomes readable or writable. Every
// registration is one-shot and its continuation runs exactly once: if the transport is
// closed before it becomes ready, the continuation still runs and the transport's
// Read/Write report the failure. Continuations of a single transport never run concurrently.
// Registering must not run the continuation synchronously.
type Scheduler interface {
	RunOnReadable(t Transport, cont func())
	RunOnWritable(t Transport, cont func())
}

// HandlerFactory produces a Handler for every request which headers are complete.
type HandlerFactory interface {
	Handler(c *Connection, req *http.Request) Handler
}

// Handler processes a single request. HandleHTTPRequest is called exactly once per request
// cycle, after which the handler drives the connection by reading the body, writing the
// response and finally calling FinishResponse.
type Handler interface {
	HandleHTTPRequest()
}
