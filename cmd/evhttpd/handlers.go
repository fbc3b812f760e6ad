package main

import (
	"strconv"
	"strings"

	"github.com/indigo-web/evhttp/http"
	"github.com/indigo-web/evhttp/http/mime"
	"github.com/indigo-web/evhttp/http/status"
	"github.com/indigo-web/evhttp/httpconn"
	"go.uber.org/zap"
)

type handlers struct {
	log *zap.Logger
}

func (h handlers) route(c *httpconn.Connection, req *http.Request) {
	switch req.Path {
	case "/":
		_ = httpconn.Respond(c, http.NewResponse().String("Hello, world!"))
	case "/echo":
		h.echo(c, req)
	case "/stream":
		h.stream(c, req)
	case "/headers":
		h.headers(c, req)
	default:
		_ = httpconn.Respond(c, http.NewResponse().Code(status.NotFound))
	}
}

func (h handlers) echo(c *httpconn.Connection, req *http.Request) {
	err := httpconn.Collect(c, func(body []byte) {
		resp := http.NewResponse().
			ContentType(mime.Plain).
			Bytes(append([]byte(nil), body...))
		_ = httpconn.Respond(c, resp)
	})
	if err != nil {
		h.log.Warn("cannot read request body", zap.String("conn", c.ID()), zap.Error(err))
	}
}

// stream sends the numbers from 1 to n, each in its own chunk.
func (h handlers) stream(c *httpconn.Connection, req *http.Request) {
	n, err := strconv.Atoi(query(req, "n", "10"))
	if err != nil || n < 0 {
		_ = httpconn.Respond(c, http.NewResponse().Error(status.ErrBadRequest))
		return
	}

	var i int
	var next func()
	next = func() {
		if i == n {
			_ = c.WriteResponseBody(nil, func() {
				_ = c.FinishResponse()
			})
			return
		}

		i++
		_ = c.WriteResponseBody([]byte(strconv.Itoa(i)+"\n"), next)
	}

	resp := http.NewResponse().ContentType(mime.Plain).Stream(http.Unsized)
	if err = c.WriteResponse(resp, next); err != nil {
		h.log.Warn("cannot start streaming", zap.String("conn", c.ID()), zap.Error(err))
	}
}

func (h handlers) headers(c *httpconn.Connection, req *http.Request) {
	headers := make(map[string][]string)
	for key, value := range req.Headers.Pairs() {
		headers[key] = append(headers[key], value)
	}

	resp, err := http.NewResponse().TryJSON(headers)
	if err != nil {
		resp = http.NewResponse().Error(err)
	}

	_ = httpconn.Respond(c, resp)
}

// query returns the value of the key in the request's query, or the fallback.
func query(req *http.Request, key, or string) string {
	for _, pair := range strings.Split(req.Query, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if k == key {
			return v
		}
	}

	return or
}
