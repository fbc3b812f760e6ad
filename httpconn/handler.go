package httpconn

import "github.com/indigo-web/evhttp/http"

// HandlerFunc adapts a plain function into a HandlerFactory. The function is called once
// per request and drives the connection itself.
type HandlerFunc func(c *Connection, req *http.Request)

func (f HandlerFunc) Handler(c *Connection, req *http.Request) Handler {
	return funcHandler{fn: f, conn: c, req: req}
}

type funcHandler struct {
	fn   HandlerFunc
	conn *Connection
	req  *http.Request
}

func (f funcHandler) HandleHTTPRequest() {
	f.fn(f.conn, f.req)
}

// Respond writes a complete response and finishes the request cycle once it's written.
func Respond(c *Connection, resp *http.Response) error {
	return c.WriteResponse(resp, func() {
		_ = c.FinishResponse()
	})
}

// Collect reads the whole request body and passes it to the callback. The data is valid
// only during the call.
func Collect(c *Connection, cb func(body []byte)) error {
	var (
		body    []byte
		chunked bool
	)

	return c.ReadRequestBody(func(data []byte, last bool) {
		if last && !chunked {
			cb(data)
			return
		}

		chunked = true
		body = append(body, data...)
		if last {
			cb(body)
		}
	})
}
