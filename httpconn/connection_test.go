package httpconn_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/http"
	"github.com/indigo-web/evhttp/http/method"
	"github.com/indigo-web/evhttp/http/proto"
	"github.com/indigo-web/evhttp/httpconn"
	"github.com/indigo-web/evhttp/kv"
	"github.com/indigo-web/evhttp/transport/dummy"
	"github.com/stretchr/testify/require"
)

type env struct {
	conn      *httpconn.Connection
	sched     *dummy.Scheduler
	transport *dummy.Transport
	releases  int
}

func newEnv(t *testing.T, tr *dummy.Transport, f httpconn.HandlerFactory) *env {
	return newEnvWithConfig(t, tr, f, config.Default())
}

func newEnvWithConfig(t *testing.T, tr *dummy.Transport, f httpconn.HandlerFactory, cfg *config.Config) *env {
	e := &env{
		sched:     dummy.NewScheduler(),
		transport: tr,
	}
	e.conn = httpconn.Start(tr, e.sched, f, httpconn.Options{
		Config: cfg,
		OnRelease: func(*httpconn.Connection) {
			e.releases++
		},
	})

	return e
}

func (e *env) released() bool {
	select {
	case <-e.conn.Done():
		return true
	default:
		return false
	}
}

// snapshot is a copy of the request taken inside the handler.
type snapshot struct {
	Method  method.Method
	URI     string
	Path    string
	Query   string
	Proto   proto.Proto
	Headers []kv.Pair
}

func snap(req *http.Request) snapshot {
	return snapshot{
		Method:  req.Method,
		URI:     req.URI,
		Path:    req.Path,
		Query:   req.Query,
		Proto:   req.Proto,
		Headers: append([]kv.Pair{}, req.Headers.Expose()...),
	}
}

func respondWith(body string, requests *[]snapshot) httpconn.HandlerFunc {
	return func(c *httpconn.Connection, req *http.Request) {
		if requests != nil {
			*requests = append(*requests, snap(req))
		}

		_ = httpconn.Respond(c, http.NewResponse().String(body))
	}
}

func splitIntoParts(data string, n int) (parts []string) {
	for len(data) > n {
		parts = append(parts, data[:n])
		data = data[n:]
	}

	return append(parts, data)
}

func TestDispatch(t *testing.T) {
	raw := "GET /hello%20world?a=b HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Accept: */*\r\n" +
		"X-Custom: 1\r\n" +
		"x-custom: 2\r\n" +
		"\r\n"
	want := snapshot{
		Method: method.GET,
		URI:    "/hello%20world?a=b",
		Path:   "/hello world",
		Query:  "a=b",
		Proto:  proto.HTTP11,
		Headers: []kv.Pair{
			{"Host", "localhost"},
			{"Accept", "*/*"},
			{"X-Custom", "1"},
			{"x-custom", "2"},
		},
	}

	for n := 1; n <= len(raw); n++ {
		var requests []snapshot
		e := newEnv(t, dummy.NewTransport(splitIntoParts(raw, n)...), respondWith("ok", &requests))
		e.sched.Run()

		require.Len(t, requests, 1, n)
		require.Equal(t, want, requests[0], n)
		require.True(t, strings.HasPrefix(e.transport.Written(), "HTTP/1.1 200 OK\r\n"), n)
		require.True(t, strings.HasSuffix(e.transport.Written(), "\r\n\r\nok"), n)
		// keep-alive connection waits for the next request
		require.Equal(t, 1, e.sched.PendingReads(), n)
		require.Equal(t, httpconn.AwaitingRequestLine, e.conn.State(), n)
		require.False(t, e.released(), n)
	}
}

func TestKeepAlive(t *testing.T) {
	t.Run("pipelined requests are sequential", func(t *testing.T) {
		var events []string
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			path := req.Path
			events = append(events, "dispatch "+path)
			err := c.WriteResponse(http.NewResponse().String(path), func() {
				events = append(events, "finish "+path)
				require.NoError(t, c.FinishResponse())
				events = append(events, "finished "+path)
			})
			require.NoError(t, err)
		})

		raw := "GET /first HTTP/1.1\r\nHello: world\r\n\r\nGET /second HTTP/1.1\r\n\r\n"
		e := newEnv(t, dummy.NewTransport(raw), handler)
		e.sched.Run()

		require.Equal(t, []string{
			"dispatch /first",
			"finish /first",
			"finished /first",
			"dispatch /second",
			"finish /second",
			"finished /second",
		}, events)
		require.Equal(t, 1, strings.Count(e.transport.Written(), "\r\n\r\n/first"))
		require.True(t, strings.HasSuffix(e.transport.Written(), "\r\n\r\n/second"))
	})

	t.Run("fresh request every cycle", func(t *testing.T) {
		var requests []snapshot
		raw := "POST /first?x=y HTTP/1.1\r\nContent-Length: 5\r\nA: b\r\n\r\nHello" +
			"GET / HTTP/1.1\r\n\r\n"
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			requests = append(requests, snap(req))
			if len(requests) == 2 {
				require.Zero(t, req.ContentLength)
				require.False(t, req.Chunked)
			}

			require.NoError(t, httpconn.Collect(c, func([]byte) {
				require.NoError(t, httpconn.Respond(c, http.NewResponse()))
			}))
		})

		e := newEnv(t, dummy.NewTransport(raw), handler)
		e.sched.Run()

		require.Len(t, requests, 2)
		require.Equal(t, snapshot{
			Method:  method.GET,
			URI:     "/",
			Path:    "/",
			Proto:   proto.HTTP11,
			Headers: []kv.Pair{},
		}, requests[1])
	})

	t.Run("connection close", func(t *testing.T) {
		raw := "GET / HTTP/1.1\r\nConnection: close\r\n\r\nGET / HTTP/1.1\r\n\r\n"
		var requests []snapshot
		e := newEnv(t, dummy.NewTransport(raw), respondWith("bye", &requests))
		e.sched.Run()

		require.Len(t, requests, 1)
		require.Contains(t, e.transport.Written(), "Connection: close\r\n")
		require.Equal(t, 1, e.transport.Closes())
		require.True(t, e.released())
		require.Equal(t, 1, e.releases)
	})

	t.Run("empty line after the body", func(t *testing.T) {
		var requests []snapshot
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			requests = append(requests, snap(req))
			require.NoError(t, httpconn.Collect(c, func([]byte) {
				require.NoError(t, httpconn.Respond(c, http.NewResponse()))
			}))
		})

		tr := dummy.NewTransport("POST /a HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi\r\nGET /b HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.Len(t, requests, 2)
		require.Equal(t, "/b", requests[1].Path)
		require.Equal(t, 2, strings.Count(tr.Written(), "HTTP/1.1 200 OK\r\n"))
		require.Zero(t, tr.Closes())
	})

	t.Run("HTTP/1.0", func(t *testing.T) {
		e := newEnv(t, dummy.NewTransport("GET / HTTP/1.0\r\n\r\n"), respondWith("", nil))
		e.sched.Run()
		require.True(t, strings.HasPrefix(e.transport.Written(), "HTTP/1.0 200 OK\r\n"))
		require.Equal(t, 1, e.transport.Closes())

		e = newEnv(t, dummy.NewTransport("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n"), respondWith("", nil))
		e.sched.Run()
		require.Contains(t, e.transport.Written(), "Connection: keep-alive\r\n")
		require.Zero(t, e.transport.Closes())
	})
}

func TestPartialWrites(t *testing.T) {
	body := strings.Repeat("abcdefgh", 100)
	var (
		calls      int
		writtenAt  int
		totalBytes int
	)

	tr := dummy.NewTransport("GET / HTTP/1.1\r\n\r\n").WriteLimit(7)
	var e *env
	handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
		err := c.WriteResponse(http.NewResponse().String(body), func() {
			calls++
			writtenAt = len(e.transport.Written())
		})
		require.NoError(t, err)
	})

	e = newEnv(t, tr, handler)
	e.sched.Run()

	totalBytes = len(tr.Written())
	require.Equal(t, 1, calls)
	require.Equal(t, totalBytes, writtenAt)
	require.True(t, strings.HasSuffix(tr.Written(), body))
	require.Equal(t, (totalBytes+6)/7, tr.Writes())
}

func TestEOF(t *testing.T) {
	t.Run("zero-length read", func(t *testing.T) {
		e := newEnv(t, dummy.NewTransport().Hangup(), respondWith("", nil))
		require.Equal(t, 1, e.sched.PendingReads())
		e.sched.Run()

		require.Equal(t, 1, e.transport.Closes())
		require.Zero(t, e.sched.Pending())
		require.Equal(t, httpconn.Closed, e.conn.State())
		require.True(t, e.released())
		require.Equal(t, 1, e.releases)
		require.Empty(t, e.transport.Written())
	})

	t.Run("in the middle of the request", func(t *testing.T) {
		var requests []snapshot
		e := newEnv(t, dummy.NewTransport("GET / HTTP/1.1\r\nHost: ").Hangup(), respondWith("", &requests))
		e.sched.Run()

		require.Empty(t, requests)
		require.Equal(t, 1, e.transport.Closes())
		require.True(t, e.released())
	})

	t.Run("read error", func(t *testing.T) {
		tr := dummy.NewTransport()
		tr.ReadErr = errors.New("connection reset by peer")
		e := newEnv(t, tr, respondWith("", nil))
		e.sched.Run()

		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})

	t.Run("write error", func(t *testing.T) {
		tr := dummy.NewTransport("GET / HTTP/1.1\r\n\r\n")
		tr.WriteErr = errors.New("broken pipe")
		called := false
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.NoError(t, c.WriteResponse(http.NewResponse(), func() {
				called = true
			}))
		})

		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.False(t, called)
		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})
}

func TestReadRequestBody(t *testing.T) {
	t.Run("before headers", func(t *testing.T) {
		e := newEnv(t, dummy.NewTransport("GET / HT"), respondWith("", nil))
		e.sched.Run()

		called := false
		err := e.conn.ReadRequestBody(func([]byte, bool) {
			called = true
		})
		require.ErrorIs(t, err, httpconn.ErrIllegalState)
		require.False(t, called)
		require.Equal(t, httpconn.AwaitingRequestLine, e.conn.State())
		require.Zero(t, e.transport.Closes())
	})

	t.Run("content-length in pieces", func(t *testing.T) {
		var (
			pieces []string
			lasts  []bool
		)

		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.Equal(t, 13, req.ContentLength)
			require.Equal(t, httpconn.Dispatched, c.State())
			err := c.ReadRequestBody(func(data []byte, last bool) {
				pieces = append(pieces, string(data))
				lasts = append(lasts, last)
				if last {
					require.NoError(t, httpconn.Respond(c, http.NewResponse()))
				}
			})
			require.NoError(t, err)
		})

		tr := dummy.NewTransport("POST / HTTP/1.1\r\nContent-Length: 13\r\n\r\nHello", ", ")
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.Equal(t, []string{"Hello", ", "}, pieces)
		require.Equal(t, []bool{false, false}, lasts)
		require.Equal(t, httpconn.AwaitingBody, e.conn.State())
		require.Equal(t, 1, e.sched.PendingReads())

		tr.Feed("world!")
		e.sched.Run()
		require.Equal(t, []string{"Hello", ", ", "world!"}, pieces)
		require.Equal(t, []bool{false, false, true}, lasts)
		require.Contains(t, tr.Written(), "HTTP/1.1 200 OK\r\n")
		require.Equal(t, httpconn.AwaitingRequestLine, e.conn.State())
	})

	t.Run("chunked", func(t *testing.T) {
		var body string
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.True(t, req.Chunked)
			require.NoError(t, httpconn.Collect(c, func(data []byte) {
				body = string(data)
				require.NoError(t, httpconn.Respond(c, http.NewResponse()))
			}))
		})

		tr := dummy.NewTransport(
			"POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n",
			"5\r\nHello\r\n", "7\r\n, world\r\n", "0\r\n\r\n",
		)
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.Equal(t, "Hello, world", body)
		require.Zero(t, tr.Closes())
	})

	t.Run("no body", func(t *testing.T) {
		var (
			calls int
			last  bool
		)

		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.NoError(t, c.ReadRequestBody(func(data []byte, isLast bool) {
				calls++
				last = isLast
				require.Empty(t, data)
			}))
		})

		e := newEnv(t, dummy.NewTransport("GET / HTTP/1.1\r\n\r\n"), handler)
		e.sched.Run()
		require.Equal(t, 1, calls)
		require.True(t, last)
	})

	t.Run("unread body closes the connection", func(t *testing.T) {
		tr := dummy.NewTransport("POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\nHello")
		e := newEnv(t, tr, respondWith("ok", nil))
		e.sched.Run()

		require.Contains(t, tr.Written(), "ok")
		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})
}

func TestLifetime(t *testing.T) {
	t.Run("released after the last continuation", func(t *testing.T) {
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.NoError(t, c.WriteResponse(http.NewResponse(), nil))
			require.NoError(t, c.Close())
			require.NoError(t, c.Close())
			require.Equal(t, httpconn.Closed, c.State())
		})

		tr := dummy.NewTransport("GET / HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, handler)
		require.True(t, e.sched.Step())

		// the write registration is still outstanding
		require.Equal(t, 1, tr.Closes())
		require.Equal(t, 1, e.sched.PendingWrites())
		require.False(t, e.released())
		require.Zero(t, e.releases)

		e.sched.Run()
		require.True(t, e.released())
		require.Equal(t, 1, e.releases)
		require.Equal(t, 1, tr.Closes())
		// nothing is written to the closed transport
		require.Empty(t, tr.Written())
	})

	t.Run("close outside of continuations", func(t *testing.T) {
		e := newEnv(t, dummy.NewTransport(), respondWith("", nil))
		require.NoError(t, e.conn.Close())
		require.False(t, e.released())

		e.sched.Run()
		require.True(t, e.released())
		require.Equal(t, 1, e.releases)
		require.Zero(t, e.sched.Pending())
	})

	t.Run("operations on a closed connection", func(t *testing.T) {
		e := newEnv(t, dummy.NewTransport().Hangup(), respondWith("", nil))
		e.sched.Run()

		require.ErrorIs(t, e.conn.ReadRequestBody(func([]byte, bool) {}), httpconn.ErrClosed)
		require.ErrorIs(t, e.conn.WriteResponse(http.NewResponse(), nil), httpconn.ErrClosed)
		require.ErrorIs(t, e.conn.WriteResponseBody(nil, nil), httpconn.ErrClosed)
		require.ErrorIs(t, e.conn.FinishResponse(), httpconn.ErrClosed)
		require.Equal(t, 1, e.releases)
	})
}

func TestMalformedRequest(t *testing.T) {
	t.Run("error response", func(t *testing.T) {
		var requests []snapshot
		tr := dummy.NewTransport("GET / HTTP/1.1\r\nContent-Length: nope\r\n\r\n")
		e := newEnv(t, tr, respondWith("", &requests))
		e.sched.Run()

		require.Empty(t, requests)
		require.True(t, strings.HasPrefix(tr.Written(), "HTTP/1.1 400 Bad Request\r\n"))
		require.Contains(t, tr.Written(), "Connection: close\r\n")
		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})

	t.Run("whitespace before colon", func(t *testing.T) {
		var requests []snapshot
		tr := dummy.NewTransport("POST / HTTP/1.1\r\nContent-Length : 5\r\n\r\nGET /smuggled HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, respondWith("ok", &requests))
		e.sched.Run()

		require.Empty(t, requests)
		require.True(t, strings.HasPrefix(tr.Written(), "HTTP/1.1 400 Bad Request\r\n"))
		require.Contains(t, tr.Written(), "Connection: close\r\n")
		require.Equal(t, 1, strings.Count(tr.Written(), "HTTP/1.1"))
		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})

	t.Run("unknown method", func(t *testing.T) {
		tr := dummy.NewTransport("BREW /pot HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, respondWith("", nil))
		e.sched.Run()

		require.True(t, strings.HasPrefix(tr.Written(), "HTTP/1.1 501 Not Implemented\r\n"))
		require.True(t, e.released())
	})

	t.Run("bad URI encoding", func(t *testing.T) {
		tr := dummy.NewTransport("GET /%zz HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, respondWith("", nil))
		e.sched.Run()

		require.True(t, strings.HasPrefix(tr.Written(), "HTTP/1.1 400 Bad Request\r\n"))
		require.True(t, e.released())
	})

	t.Run("error responses disabled", func(t *testing.T) {
		cfg := config.Default()
		cfg.HTTP.ErrorResponses = false
		tr := dummy.NewTransport("GET / HTTP/9.9\r\n\r\n")
		e := newEnvWithConfig(t, tr, respondWith("", nil), cfg)
		e.sched.Run()

		require.Empty(t, tr.Written())
		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})
}

func TestStreamedResponse(t *testing.T) {
	t.Run("chunked", func(t *testing.T) {
		pieces := []string{"Hello", ", ", "world!", ""}
		var writeNext func(c *httpconn.Connection)
		writeNext = func(c *httpconn.Connection) {
			piece := pieces[0]
			pieces = pieces[1:]
			require.NoError(t, c.WriteResponseBody([]byte(piece), func() {
				if len(pieces) == 0 {
					require.NoError(t, c.FinishResponse())
					return
				}

				writeNext(c)
			}))
		}

		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.ErrorIs(t, c.WriteResponseBody([]byte("early"), nil), httpconn.ErrIllegalState)
			require.NoError(t, c.WriteResponse(http.NewResponse().Stream(http.Unsized), func() {
				writeNext(c)
			}))
			require.Equal(t, httpconn.WritingResponse, c.State())
		})

		tr := dummy.NewTransport("GET / HTTP/1.1\r\n\r\n").WriteLimit(3)
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.True(t, strings.HasSuffix(tr.Written(),
			"Transfer-Encoding: chunked\r\n\r\n5\r\nHello\r\n2\r\n, \r\n6\r\nworld!\r\n0\r\n\r\n",
		), tr.Written())
		require.Zero(t, tr.Closes())
		require.Equal(t, httpconn.AwaitingRequestLine, e.conn.State())
	})

	t.Run("sized", func(t *testing.T) {
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.NoError(t, c.WriteResponse(http.NewResponse().Stream(10), func() {
				require.NoError(t, c.WriteResponseBody([]byte("Hello"), func() {
					require.ErrorIs(t, c.WriteResponseBody([]byte("too long"), nil), httpconn.ErrIllegalState)
					require.NoError(t, c.WriteResponseBody([]byte("world"), func() {
						require.NoError(t, c.FinishResponse())
					}))
				}))
			}))
		})

		tr := dummy.NewTransport("GET / HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.True(t, strings.HasSuffix(tr.Written(), "Content-Length: 10\r\n\r\nHelloworld"))
		require.Zero(t, tr.Closes())
	})

	t.Run("unterminated stream closes the connection", func(t *testing.T) {
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.NoError(t, c.WriteResponse(http.NewResponse().Stream(http.Unsized), func() {
				require.NoError(t, c.FinishResponse())
			}))
		})

		tr := dummy.NewTransport("GET / HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})

	t.Run("HEAD", func(t *testing.T) {
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.NoError(t, c.WriteResponse(http.NewResponse().Stream(http.Unsized), func() {
				require.NoError(t, c.WriteResponseBody([]byte("dropped"), func() {
					require.NoError(t, c.FinishResponse())
				}))
			}))
		})

		tr := dummy.NewTransport("HEAD / HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.NotContains(t, tr.Written(), "dropped")
		require.Zero(t, tr.Closes())
	})
}

func TestIllegalUsage(t *testing.T) {
	handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
		require.NoError(t, c.WriteResponse(http.NewResponse(), func() {
			require.ErrorIs(t, c.WriteResponse(http.NewResponse(), nil), httpconn.ErrIllegalState)
			require.NoError(t, c.FinishResponse())
		}))
		require.ErrorIs(t, c.FinishResponse(), httpconn.ErrIllegalState)
	})

	e := newEnv(t, dummy.NewTransport("GET / HTTP/1.1\r\n\r\n"), handler)
	require.ErrorIs(t, e.conn.WriteResponse(http.NewResponse(), nil), httpconn.ErrIllegalState)
	require.ErrorIs(t, e.conn.FinishResponse(), httpconn.ErrIllegalState)
	e.sched.Run()

	require.Zero(t, e.transport.Closes())
	require.Equal(t, 1, strings.Count(e.transport.Written(), "HTTP/1.1 200 OK"))
}

func TestIllegalCycleOrder(t *testing.T) {
	t.Run("finish without a response", func(t *testing.T) {
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.ErrorIs(t, c.FinishResponse(), httpconn.ErrIllegalState)
			require.NoError(t, httpconn.Respond(c, http.NewResponse()))
		})

		tr := dummy.NewTransport("GET / HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.Equal(t, 1, strings.Count(tr.Written(), "HTTP/1.1 200 OK\r\n"))
		require.Equal(t, httpconn.AwaitingRequestLine, e.conn.State())
	})

	t.Run("body read after the final piece", func(t *testing.T) {
		var lasts int
		handler := httpconn.HandlerFunc(func(c *httpconn.Connection, req *http.Request) {
			require.NoError(t, c.ReadRequestBody(func(_ []byte, last bool) {
				if last {
					lasts++
				}
			}))
			require.ErrorIs(t, c.ReadRequestBody(func([]byte, bool) {
				lasts++
			}), httpconn.ErrIllegalState)
			require.NoError(t, httpconn.Respond(c, http.NewResponse()))
		})

		tr := dummy.NewTransport("POST / HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi")
		e := newEnv(t, tr, handler)
		e.sched.Run()

		require.Equal(t, 1, lasts)
		require.Zero(t, tr.Closes())
	})
}

func TestDrain(t *testing.T) {
	t.Run("idle connection", func(t *testing.T) {
		tr := dummy.NewTransport("GET / HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, respondWith("ok", nil))
		e.sched.Run()
		require.Equal(t, httpconn.AwaitingRequestLine, e.conn.State())

		e.conn.Drain()
		e.sched.Run()
		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
		require.Zero(t, e.sched.Pending())
	})

	t.Run("request in progress is served", func(t *testing.T) {
		tr := dummy.NewTransport("GET / HT")
		e := newEnv(t, tr, respondWith("ok", nil))
		e.sched.Run()

		e.conn.Drain()
		e.sched.Run()
		require.Zero(t, tr.Closes())
		require.Equal(t, 1, e.sched.PendingReads())

		tr.Feed("TP/1.1\r\n\r\n")
		e.sched.Run()
		require.True(t, strings.HasSuffix(tr.Written(), "\r\n\r\nok"))
		require.NotContains(t, tr.Written(), "Connection: close")
		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})

	t.Run("pipelined requests are served", func(t *testing.T) {
		var requests []snapshot
		tr := dummy.NewTransport("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n")
		e := newEnv(t, tr, respondWith("ok", &requests))
		e.conn.Drain()
		e.sched.Run()

		require.Len(t, requests, 2)
		require.Equal(t, 2, strings.Count(tr.Written(), "HTTP/1.1 200 OK\r\n"))
		require.Equal(t, 1, tr.Closes())
		require.True(t, e.released())
	})

	t.Run("repeated", func(t *testing.T) {
		e := newEnv(t, dummy.NewTransport(), respondWith("", nil))
		e.conn.Drain()
		e.conn.Drain()
		e.sched.Run()
		require.Equal(t, 1, e.transport.Closes())
		require.True(t, e.released())
	})
}
