package http1

import (
	"io"
	"slices"
	"strconv"

	"github.com/indigo-web/evhttp/http"
	"github.com/indigo-web/evhttp/http/method"
	"github.com/indigo-web/evhttp/http/proto"
	"github.com/indigo-web/evhttp/http/status"
	"github.com/indigo-web/utils/strcomp"
)

const (
	crlf             = "\r\n"
	colonsp          = ": "
	contentType      = "Content-Type: "
	contentLength    = "Content-Length: "
	transferEncoding = "Transfer-Encoding: chunked\r\n"
	connectionClose  = "Connection: close\r\n"
	connectionKeep   = "Connection: keep-alive\r\n"
	lastChunk        = "0\r\n\r\n"
)

// Generator serializes responses. It isn't safe for concurrent use, however it is cheap
// enough to have one per connection.
type Generator struct {
	buff           []byte
	defaultHeaders []defaultHeader
}

type defaultHeader struct {
	key  string
	full string
}

func NewGenerator(defaultHeaders map[string]string) *Generator {
	keys := make([]string, 0, len(defaultHeaders))
	for key := range defaultHeaders {
		keys = append(keys, key)
	}

	// maps are unordered, however the output is expected to be stable
	slices.Sort(keys)

	rendered := make([]defaultHeader, 0, len(keys))
	for _, key := range keys {
		rendered = append(rendered, defaultHeader{
			key:  key,
			full: key + colonsp + defaultHeaders[key] + crlf,
		})
	}

	return &Generator{
		buff:           make([]byte, 0, 512),
		defaultHeaders: rendered,
	}
}

// Generate writes the response into the sink. For streamed responses only the head is
// written, the body follows via Chunk/LastChunk or raw writes.
func (g *Generator) Generate(sink io.Writer, req *http.Request, resp *http.Response, keepAlive bool) error {
	fields := resp.Reveal()
	buff := g.buff[:0]

	buff = g.renderStatusLine(buff, req.Proto, fields)
	for _, header := range fields.Headers {
		buff = append(buff, header.Key...)
		buff = append(buff, colonsp...)
		buff = append(buff, header.Value...)
		buff = append(buff, crlf...)
	}

	for _, header := range g.defaultHeaders {
		if !overridden(fields, header.key) {
			buff = append(buff, header.full...)
		}
	}

	buff = append(buff, contentType...)
	buff = append(buff, fields.ContentType...)
	buff = append(buff, crlf...)

	bodyless := !permitsBody(fields.Code)
	switch {
	case bodyless:
	case fields.Chunked():
		if req.Proto != proto.HTTP10 {
			// HTTP/1.0 clients know nothing about chunked encoding, so the body is
			// delimited by closing the connection instead
			buff = append(buff, transferEncoding...)
		}
	case fields.Streamed:
		buff = renderContentLength(buff, fields.StreamLength)
	default:
		buff = renderContentLength(buff, int64(len(fields.Body)))
	}

	switch {
	case !keepAlive:
		buff = append(buff, connectionClose...)
	case req.Proto == proto.HTTP10:
		buff = append(buff, connectionKeep...)
	}

	buff = append(buff, crlf...)

	if !fields.Streamed && !bodyless && req.Method != method.HEAD {
		// HEAD request responses must be similar to GET request responses, except
		// forced lack of body, even if Content-Length is specified
		buff = append(buff, fields.Body...)
	}

	g.buff = buff
	_, err := sink.Write(buff)

	return err
}

// Chunk writes a single chunk of chunked transfer encoding. Empty data is ignored, as it
// would otherwise terminate the stream.
func (g *Generator) Chunk(sink io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	buff := strconv.AppendUint(g.buff[:0], uint64(len(data)), 16)
	buff = append(buff, crlf...)
	buff = append(buff, data...)
	buff = append(buff, crlf...)
	g.buff = buff
	_, err := sink.Write(buff)

	return err
}

// LastChunk writes the terminating chunk of chunked transfer encoding.
func (g *Generator) LastChunk(sink io.Writer) error {
	_, err := io.WriteString(sink, lastChunk)
	return err
}

func (g *Generator) renderStatusLine(buff []byte, version proto.Proto, fields *http.Fields) []byte {
	if version == proto.Unknown {
		// the request line might be broken, so respond using the most common version
		version = proto.HTTP11
	}

	buff = append(buff, version.String()...)
	buff = append(buff, ' ')
	buff = strconv.AppendUint(buff, uint64(fields.Code), 10)
	buff = append(buff, ' ')
	if len(fields.Status) > 0 {
		buff = append(buff, fields.Status...)
	} else {
		buff = append(buff, status.Text(fields.Code)...)
	}

	return append(buff, crlf...)
}

func renderContentLength(buff []byte, length int64) []byte {
	buff = append(buff, contentLength...)
	buff = strconv.AppendInt(buff, length, 10)
	return append(buff, crlf...)
}

func overridden(fields *http.Fields, key string) bool {
	if strcomp.EqualFold(key, "content-type") {
		return true
	}

	for _, header := range fields.Headers {
		if strcomp.EqualFold(header.Key, key) {
			return true
		}
	}

	return false
}

// permitsBody tells whether a response with the code may carry a body.
func permitsBody(code status.Code) bool {
	return code >= 200 && code != status.NoContent && code != status.NotModified
}
