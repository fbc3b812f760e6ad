package httpconn

import "errors"

var (
	// ErrIllegalState is returned when an operation is invoked at a point of the request
	// cycle where it makes no sense, e.g. reading the body before the headers are parsed.
	// The connection stays open.
	ErrIllegalState = errors.New("operation is illegal in the current connection state")
	// ErrClosed is returned by operations invoked on an already closed connection.
	ErrClosed = errors.New("connection is closed")
	// ErrWouldBlock may be returned by a Transport when the readiness signal turned out to be
	// spurious. The connection then simply waits for the next one.
	ErrWouldBlock = errors.New("operation would block")
)
