package http1

import (
	"bytes"
	"io"
	"math"
	"strings"

	"github.com/indigo-web/chunkedbody"
	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/http/method"
	"github.com/indigo-web/evhttp/http/proto"
	"github.com/indigo-web/evhttp/http/status"
	"github.com/indigo-web/evhttp/internal/buffer"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
)

// Callbacks are fired synchronously by the parser as soon as the corresponding part of the
// request is recognized. Slices passed to them are valid until the parser is reset.
type Callbacks struct {
	OnMethod          func(m method.Method)
	OnURI             func(uri []byte)
	OnVersion         func(p proto.Proto)
	OnHeader          func(key, value []byte)
	OnHeadersComplete func()
	// OnBody receives pieces of the (de-chunked) request body. Unlike the rest, the passed
	// slice may refer to the input data, so it must be copied if retained.
	OnBody func(chunk []byte)
}

func (c Callbacks) withDefaults() Callbacks {
	if c.OnMethod == nil {
		c.OnMethod = func(method.Method) {}
	}
	if c.OnURI == nil {
		c.OnURI = func([]byte) {}
	}
	if c.OnVersion == nil {
		c.OnVersion = func(proto.Proto) {}
	}
	if c.OnHeader == nil {
		c.OnHeader = func(_, _ []byte) {}
	}
	if c.OnHeadersComplete == nil {
		c.OnHeadersComplete = func() {}
	}
	if c.OnBody == nil {
		c.OnBody = func([]byte) {}
	}

	return c
}

// Parser is a stream-based http requests parser. The data may be fed in arbitrary pieces,
// the parser keeps the state between calls. It handles exactly one request at a time: as
// soon as the request is complete, the parser enters the Done state and returns whatever
// wasn't consumed as extra. Reset must be called in order to parse the next one.
type Parser struct {
	cfg           *config.Config
	cb            Callbacks
	requestLine   *buffer.Segments
	headers       *buffer.Segments
	chunked       *chunkedbody.Parser
	err           error
	key           []byte
	headersNumber int
	blank         int
	contentLength int
	bodyLeft      int
	bodyReceived  int
	isChunked     bool
	hasTrailer    bool
	metLength     bool
	state         State
	header        headerState
}

func NewParser(cfg *config.Config, cb Callbacks) *Parser {
	return &Parser{
		cfg: cfg,
		cb:  cb.withDefaults(),
		requestLine: buffer.NewSegments(
			cfg.URI.RequestLineSize.Default, cfg.URI.RequestLineSize.Maximal,
		),
		headers: buffer.NewSegments(
			cfg.Headers.Space.Default, cfg.Headers.Space.Maximal,
		),
		state:  Method,
		header: eHeaderKey,
	}
}

func (p *Parser) State() State {
	return p.state
}

// ContentLength returns the declared body length. Valid once the headers are complete.
func (p *Parser) ContentLength() int {
	return p.contentLength
}

// Chunked reports whether the body uses chunked transfer encoding. Valid once the headers
// are complete.
func (p *Parser) Chunked() bool {
	return p.isChunked
}

// Reset brings the parser back to the initial state, so the next request can be parsed.
func (p *Parser) Reset() {
	p.requestLine.Reset()
	p.headers.Reset()
	p.chunked = nil
	p.err = nil
	p.key = nil
	p.headersNumber = 0
	p.blank = 0
	p.contentLength = 0
	p.bodyLeft = 0
	p.bodyReceived = 0
	p.isChunked = false
	p.hasTrailer = false
	p.metLength = false
	p.state = Method
	p.header = eHeaderKey
}

// Parse feeds the data into the parser. Once the request is complete, the rest of the data
// is returned as extra. Errors are sticky: after the first one, every consequent call returns
// it until Reset.
func (p *Parser) Parse(data []byte) (extra []byte, err error) {
	if p.err != nil {
		return nil, p.err
	}

	extra, err = p.parse(data)
	if err != nil {
		p.err = err
	}

	return extra, err
}

// Idle reports whether not a single byte of the request was received yet.
func (p *Parser) Idle() bool {
	return p.state == Method && p.requestLine.Open() == 0
}

// EOF notifies the parser that no more data will come. It is an error, unless the
// request was either complete or not even started.
func (p *Parser) EOF() error {
	switch p.state {
	case Done:
		return nil
	case Method:
		if p.Idle() {
			return nil
		}
	}

	return status.ErrIncompleteRequest
}

func (p *Parser) parse(data []byte) ([]byte, error) {
	for {
		var (
			more bool
			err  error
		)

		switch p.state {
		case Method:
			data, more, err = p.method(data)
		case URI:
			data, more, err = p.uri(data)
		case Version:
			data, more, err = p.version(data)
		case Header:
			data, more, err = p.headerFields(data)
		case Body:
			data, more, err = p.body(data)
		case Done:
			return data, nil
		default:
			panic("BUG: unexpected parser state")
		}

		if err != nil {
			return nil, err
		}

		if more {
			return nil, nil
		}
	}
}

func (p *Parser) method(data []byte) ([]byte, bool, error) {
	if p.requestLine.Open() == 0 {
		// empty lines preceding the request line are ignored
		trimmed := bytes.TrimLeft(data, "\r\n")
		if p.blank += len(data) - len(trimmed); p.blank > p.cfg.URI.RequestLineSize.Maximal {
			return nil, false, status.ErrTooLongRequestLine
		}

		if data = trimmed; len(data) == 0 {
			return nil, true, nil
		}
	}

	sp := bytes.IndexByte(data, ' ')
	if sp == -1 {
		if !p.requestLine.Append(data) {
			return nil, false, status.ErrTooLongRequestLine
		}

		return nil, true, nil
	}

	if !p.requestLine.Append(data[:sp]) {
		return nil, false, status.ErrTooLongRequestLine
	}

	token := p.requestLine.Seal()
	if len(token) == 0 || bytes.IndexByte(token, '\n') != -1 {
		return nil, false, status.ErrBadRequest
	}

	m := method.Parse(uf.B2S(token))
	if m == method.Unknown {
		return nil, false, status.ErrMethodNotImplemented
	}

	p.cb.OnMethod(m)
	p.state = URI

	return data[sp+1:], false, nil
}

func (p *Parser) uri(data []byte) ([]byte, bool, error) {
	sp := bytes.IndexByte(data, ' ')
	chunk := data
	if sp != -1 {
		chunk = data[:sp]
	}

	if bytes.IndexByte(chunk, '\n') != -1 {
		return nil, false, status.ErrBadRequest
	}

	if !p.requestLine.Append(chunk) {
		return nil, false, status.ErrURITooLong
	}

	if sp == -1 {
		return nil, true, nil
	}

	uri := p.requestLine.Seal()
	if len(uri) == 0 {
		return nil, false, status.ErrBadRequest
	}

	p.cb.OnURI(uri)
	p.state = Version

	return data[sp+1:], false, nil
}

func (p *Parser) version(data []byte) ([]byte, bool, error) {
	lf := bytes.IndexByte(data, '\n')
	chunk := data
	if lf != -1 {
		chunk = data[:lf]
	}

	if !p.requestLine.Append(chunk) {
		return nil, false, status.ErrTooLongRequestLine
	}

	if lf == -1 {
		return nil, true, nil
	}

	token := bytes.TrimSuffix(p.requestLine.Seal(), []byte{'\r'})
	version := proto.FromBytes(token)
	if version == proto.Unknown {
		return nil, false, status.ErrUnsupportedProtocol
	}

	p.cb.OnVersion(version)
	p.state = Header
	p.header = eHeaderKey

	return data[lf+1:], false, nil
}

func (p *Parser) headerFields(data []byte) ([]byte, bool, error) {
	for len(data) > 0 {
		switch p.header {
		case eHeaderKey:
			if p.headers.Open() == 0 {
				switch data[0] {
				case '\r':
					p.header = eHeadersCR
					data = data[1:]
					continue
				case '\n':
					return p.headersComplete(data[1:])
				}
			}

			colon := bytes.IndexByte(data, ':')
			chunk := data
			if colon != -1 {
				chunk = data[:colon]
			}

			if bytes.IndexByte(chunk, '\n') != -1 {
				return nil, false, status.ErrBadRequest
			}

			if !p.headers.Append(chunk) {
				return nil, false, status.ErrHeaderFieldsTooLarge
			}

			if colon == -1 {
				return nil, true, nil
			}

			p.key = p.headers.Seal()
			if !isToken(p.key) {
				// whitespace before the colon included
				return nil, false, status.ErrBadRequest
			}

			if p.headersNumber++; p.headersNumber > p.cfg.Headers.Number.Maximal {
				return nil, false, status.ErrTooManyHeaders
			}

			p.header = eHeaderValue
			data = data[colon+1:]
		case eHeaderValue:
			lf := bytes.IndexByte(data, '\n')
			chunk := data
			if lf != -1 {
				chunk = data[:lf]
			}

			if !p.headers.Append(chunk) {
				return nil, false, status.ErrHeaderFieldsTooLarge
			}

			if lf == -1 {
				return nil, true, nil
			}

			if err := p.onHeader(p.key, trimValue(p.headers.Seal())); err != nil {
				return nil, false, err
			}

			p.header = eHeaderKey
			data = data[lf+1:]
		case eHeadersCR:
			if data[0] != '\n' {
				return nil, false, status.ErrBadRequest
			}

			return p.headersComplete(data[1:])
		}
	}

	return nil, true, nil
}

func (p *Parser) onHeader(key, value []byte) error {
	switch k := uf.B2S(key); {
	case strcomp.EqualFold(k, "content-length"):
		length, ok := parseContentLength(value)
		if !ok || (p.metLength && length != p.contentLength) {
			return status.ErrBadContentLength
		}

		if length > p.cfg.Body.MaxSize {
			return status.ErrBodyTooLarge
		}

		p.contentLength = length
		p.metLength = true
	case strcomp.EqualFold(k, "transfer-encoding"):
		chunked, err := parseTransferEncoding(uf.B2S(value))
		if err != nil {
			return err
		}

		p.isChunked = chunked
	case strcomp.EqualFold(k, "trailer"):
		p.hasTrailer = true
	}

	p.cb.OnHeader(key, value)

	return nil
}

func (p *Parser) headersComplete(rest []byte) ([]byte, bool, error) {
	switch {
	case p.isChunked && p.metLength:
		// both framings at once is a well-known way of smuggling requests
		return nil, false, status.ErrBadRequest
	case p.isChunked:
		p.chunked = chunkedbody.NewParser(chunkedbody.DefaultSettings())
		p.state = Body
	case p.contentLength > 0:
		p.bodyLeft = p.contentLength
		p.state = Body
	default:
		p.state = Done
	}

	p.cb.OnHeadersComplete()

	return rest, false, nil
}

func (p *Parser) body(data []byte) ([]byte, bool, error) {
	if len(data) == 0 {
		return nil, true, nil
	}

	if p.chunked == nil {
		n := min(len(data), p.bodyLeft)
		p.bodyLeft -= n
		p.cb.OnBody(data[:n])
		if p.bodyLeft == 0 {
			p.state = Done
		}

		return data[n:], false, nil
	}

	chunk, extra, err := p.chunked.Parse(data, p.hasTrailer)
	switch err {
	case nil:
	case io.EOF:
		p.state = Done
	default:
		return nil, false, status.ErrBadChunk
	}

	if len(chunk) > 0 {
		if p.bodyReceived += len(chunk); p.bodyReceived > p.cfg.Body.MaxSize {
			return nil, false, status.ErrBodyTooLarge
		}

		p.cb.OnBody(chunk)
	}

	if err == nil && len(chunk) == 0 && len(extra) >= len(data) {
		// nothing was consumed, so more data is required to make any progress
		return nil, true, nil
	}

	return extra, false, nil
}

func parseContentLength(value []byte) (length int, ok bool) {
	if len(value) == 0 {
		return 0, false
	}

	for _, char := range value {
		if char < '0' || char > '9' {
			return 0, false
		}

		if length > (math.MaxInt-9)/10 {
			return 0, false
		}

		length = length*10 + int(char-'0')
	}

	return length, true
}

// parseTransferEncoding reports whether the body is chunked. Only chunked and identity are
// supported, and chunked must be the final encoding.
func parseTransferEncoding(value string) (chunked bool, err error) {
	for token := range strings.SplitSeq(value, ",") {
		switch token = strings.TrimSpace(token); {
		case token == "":
		case strcomp.EqualFold(token, "identity"):
		case strcomp.EqualFold(token, "chunked"):
			if chunked {
				return false, status.ErrBadRequest
			}

			chunked = true
		default:
			return false, status.ErrUnsupportedEncoding
		}
	}

	return chunked, nil
}

func trimValue(value []byte) []byte {
	for len(value) > 0 && (value[0] == ' ' || value[0] == '\t') {
		value = value[1:]
	}

	for len(value) > 0 {
		switch value[len(value)-1] {
		case '\r', ' ', '\t':
			value = value[:len(value)-1]
		default:
			return value
		}
	}

	return value
}

// isToken reports whether the header name is a non-empty sequence of tchars (RFC 9110).
func isToken(name []byte) bool {
	if len(name) == 0 {
		return false
	}

	for _, c := range name {
		if !tchars[c] {
			return false
		}
	}

	return true
}

var tchars = func() (table [256]bool) {
	for _, c := range []byte("!#$%&'*+-.^_`|~") {
		table[c] = true
	}

	for c := '0'; c <= '9'; c++ {
		table[c] = true
	}

	for c := 'a'; c <= 'z'; c++ {
		table[c] = true
		table[c-'a'+'A'] = true
	}

	return table
}()
