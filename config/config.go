package config

import (
	"runtime"
	"time"
)

type (
	HeadersNumber struct {
		Default, Maximal int
	}

	HeadersSpace struct {
		Default, Maximal int
	}

	URIRequestLineSize struct {
		Default, Maximal int
	}

	NETWriteBufferSize struct {
		Default, Maximal int
	}

	NETAcceptBackoff struct {
		Min, Max time.Duration
	}
)

type (
	URI struct {
		// RequestLineSize is a buffer storing method, request target and protocol until the
		// request line is complete. Please note that setting the maximal boundary too low might
		// result in very ambiguous errors.
		RequestLineSize URIRequestLineSize
	}

	Headers struct {
		// Number is responsible for headers storage size.
		// Default value is an initial size of allocated headers storage.
		// Maximal value is maximum number of headers allowed to be presented
		Number HeadersNumber
		// Space limits the amount of memory occupied by request header keys and values.
		Space HeadersSpace
		// Default headers are headers to be included into every response implicitly, unless
		// explicitly overridden.
		Default map[string]string `test:"nullable"`
	}

	Body struct {
		// MaxSize describes the maximal size of a body, that can be processed. Requests exceeding
		// it are rejected with 413 Request Entity Too Large.
		MaxSize int
	}

	NET struct {
		// ReadBufferSize is a size of buffer in bytes which will be used to read from
		// socket
		ReadBufferSize int
		// ReadTimeout controls the maximal lifetime of IDLE connections for transports
		// supporting deadlines. If no data was received in this period of time, it'll be closed.
		ReadTimeout time.Duration
		// WriteBufferSize is the initial capacity of the buffer a response is serialized into.
		// Maximal is the largest capacity kept between responses; bigger buffers are dropped
		// instead of being recycled.
		WriteBufferSize NETWriteBufferSize
		// AcceptBackoff bounds the pause an acceptor makes after a failed accept, e.g. when
		// the process ran out of file descriptors.
		AcceptBackoff NETAcceptBackoff
		// EventLoops is the number of reactor goroutines for the epoll and gnet backends.
		EventLoops int
	}

	HTTP struct {
		// ErrorResponses enables responding with the corresponding status code when a request
		// can't be parsed, right before the connection is closed.
		ErrorResponses bool
	}
)

// Config holds settings used across various parts of evhttp, mainly restrictions, limitations
// and pre-allocations.
//
// You must ALWAYS modify defaults (returned via Default()) and NEVER try to initialize the
// config manually, because most likely this will result in ambiguous errors.
type Config struct {
	URI     URI
	Headers Headers
	Body    Body
	NET     NET
	HTTP    HTTP
}

// Default returns default config. Those are initially well-balanced, however maximal defaults
// are pretty permitting.
func Default() *Config {
	return &Config{
		URI: URI{
			RequestLineSize: URIRequestLineSize{
				Default: 2 * 1024,
				// allow at most 16kb of request line, which is effectively pretty much tolerant,
				// considering most web-entities limit it to 4-8kb.
				Maximal: 16 * 1024,
			},
		},
		Headers: Headers{
			Number: HeadersNumber{
				Default: 10,
				Maximal: 50,
			},
			Space: HeadersSpace{
				Default: 1 * 1024,  // 1kb for headers must be fairly enough in most cases.
				Maximal: 16 * 1024, // However, there also might be extremely long cookies.
			},
			Default: map[string]string{
				"Server": "evhttp",
			},
		},
		Body: Body{
			MaxSize: 512 * 1024 * 1024, // 512 megabytes
		},
		NET: NET{
			ReadBufferSize: 4 * 1024,
			ReadTimeout:    90 * time.Second,
			WriteBufferSize: NETWriteBufferSize{
				Default: 2 * 1024,
				Maximal: 64 * 1024,
			},
			AcceptBackoff: NETAcceptBackoff{
				Min: 5 * time.Millisecond,
				Max: 1 * time.Second,
			},
			EventLoops: runtime.GOMAXPROCS(0),
		},
		HTTP: HTTP{
			ErrorResponses: true,
		},
	}
}
