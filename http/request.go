package http

import (
	"github.com/indigo-web/evhttp/http/method"
	"github.com/indigo-web/evhttp/http/proto"
	"github.com/indigo-web/evhttp/kv"
	"github.com/indigo-web/utils/strcomp"
)

type (
	Headers = *kv.Storage
	Header  = kv.Pair
)

// Request represents HTTP request. It is populated incrementally by the parser and handed out
// to the handler once the headers section is complete. A fresh Request is used for every
// request on a connection, so none of its values are carried over.
type Request struct {
	// Method is an enum representing the request method.
	Method method.Method
	// URI is the raw request-target as it came in the request line.
	URI string
	// Path is a decoded request path without the query.
	Path string
	// Query is the raw (non-decoded) query string, without the leading question mark.
	Query string
	// Proto is the enum of a protocol used for the request.
	Proto proto.Proto
	// Headers holds non-normalized header pairs in their original order, even though lookup
	// is case-insensitive.
	Headers Headers
	// ContentLength is the value of the Content-Length header, or 0 if it wasn't presented.
	ContentLength int
	// Chunked is set when the body is transferred using chunked transfer encoding.
	Chunked bool
}

func NewRequest(headers *kv.Storage) *Request {
	return &Request{
		Headers: headers,
	}
}

// HasBody tells whether a message body follows the headers section.
func (r *Request) HasBody() bool {
	return r.Chunked || r.ContentLength > 0
}

// KeepAlive reports whether the client intends to keep the connection open after the response
// is sent. HTTP/1.1 connections are persistent unless `Connection: close` is presented, HTTP/1.0
// ones are only if explicitly asked by `Connection: keep-alive`.
func (r *Request) KeepAlive() bool {
	connection := r.Headers.Value("connection")

	switch r.Proto {
	case proto.HTTP10:
		return strcomp.EqualFold(connection, "keep-alive")
	case proto.HTTP11:
		return !strcomp.EqualFold(connection, "close")
	default:
		return false
	}
}
