package httpconn

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"

	"github.com/dchest/uniuri"
	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/http"
	"github.com/indigo-web/evhttp/http/method"
	"github.com/indigo-web/evhttp/http/proto"
	"github.com/indigo-web/evhttp/http/status"
	"github.com/indigo-web/evhttp/internal/buffer"
	"github.com/indigo-web/evhttp/internal/http1"
	"github.com/indigo-web/evhttp/internal/metrics"
	"github.com/indigo-web/evhttp/internal/uridecode"
	"github.com/indigo-web/evhttp/kv"
	"go.uber.org/zap"
)

// Options are optional dependencies of a connection. Zero values are replaced by defaults.
type Options struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// OnOpen is called right before the first request cycle begins.
	OnOpen func(c *Connection)
	// OnRelease is called exactly once, when the connection is closed and no continuation
	// is pending anymore.
	OnRelease func(c *Connection)
}

type streamMode uint8

const (
	streamNone streamMode = iota
	// streamChunked frames every piece using chunked transfer encoding.
	streamChunked
	// streamSized writes pieces as is, until the declared length is reached.
	streamSized
	// streamRaw writes pieces as is, until the connection is closed. Used for unsized
	// bodies to HTTP/1.0 clients, which don't understand chunked encoding.
	streamRaw
	// streamDiscard drops every piece, as the response must not have a body.
	streamDiscard
	streamDone
)

// Connection drives a single transport through sequential request/response cycles. It never
// blocks on I/O: every wait is a one-shot registration at the scheduler.
//
// A connection is not safe for concurrent use. Handlers must call its methods only from
// within HandleHTTPRequest or from callbacks passed to the connection.
type Connection struct {
	id        string
	cfg       *config.Config
	log       *zap.Logger
	metrics   *metrics.Metrics
	onRelease func(*Connection)
	transport Transport
	scheduler Scheduler
	factory   HandlerFactory
	parser    *http1.Parser
	generator *http1.Generator
	// in holds the received data. Its mark separates the consumed part from the bytes,
	// which belong to the next request.
	in *buffer.IO
	// out holds the serialized data. Its mark separates the already written part.
	out     *buffer.IO
	body    []byte
	uriBuff []byte
	reqErr  error
	request *http.Request
	handler Handler
	// onRead is the read-completion continuation, invoked after the received data is fed
	// to the parser, unless it resulted in a dispatch.
	onRead       func()
	onWrite      func()
	bodyCallback func(data []byte, last bool)
	done         chan struct{}
	refs         atomic.Int32
	draining     atomic.Bool
	depth        int
	streamLeft   int64
	stream       streamMode
	keepAlive    bool
	responded    bool
	bodyDone     bool
	dispatchNow  bool
	resume       bool
	readPending  bool
	writePending bool
	closed       bool
}

// Start creates a connection over the transport and immediately begins the first request
// cycle. The returned connection holds the owning reference, which is released by Close.
func Start(t Transport, s Scheduler, f HandlerFactory, opts Options) *Connection {
	if opts.Config == nil {
		opts.Config = config.Default()
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	id := uniuri.New()
	c := &Connection{
		id:        id,
		cfg:       opts.Config,
		log:       opts.Logger.With(zap.String("conn", id)),
		metrics:   opts.Metrics,
		onRelease: opts.OnRelease,
		transport: t,
		scheduler: s,
		factory:   f,
		generator: http1.NewGenerator(opts.Config.Headers.Default),
		in:        buffer.AcquireIO(opts.Config.NET.ReadBufferSize),
		out:       buffer.AcquireIO(opts.Config.NET.WriteBufferSize.Default),
		done:      make(chan struct{}),
	}
	c.parser = http1.NewParser(opts.Config, http1.Callbacks{
		OnMethod:          c.onMethod,
		OnURI:             c.onURI,
		OnVersion:         c.onVersion,
		OnHeader:          c.onHeader,
		OnHeadersComplete: c.onHeadersComplete,
		OnBody:            c.onBody,
	})
	c.refs.Store(1)
	c.metrics.Opened()
	c.log.Debug("connection opened")
	if opts.OnOpen != nil {
		opts.OnOpen(c)
	}

	c.startCycle()

	return c
}

// ID returns a random identifier of the connection, also used in its log records.
func (c *Connection) ID() string {
	return c.id
}

// Request returns the request of the current cycle. It is replaced by a fresh one every cycle,
// so it must not be retained after FinishResponse.
func (c *Connection) Request() *http.Request {
	return c.request
}

// Done returns a channel, which is closed once the connection is released.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) State() State {
	switch {
	case c.closed:
		return Closed
	case c.writePending || c.onWrite != nil:
		return WritingResponse
	case c.handler != nil && c.bodyCallback != nil && c.parser.State() == http1.Body:
		return AwaitingBody
	case c.handler != nil:
		return Dispatched
	case c.parser.State() < http1.Header:
		return AwaitingRequestLine
	default:
		return AwaitingHeaders
	}
}

// ReadRequestBody delivers the request body piece by piece. The callback receives the data
// buffered so far and whether it is the final piece. The data is valid only during the call.
// Calling it before the headers are parsed or after the final piece was delivered results
// in ErrIllegalState.
func (c *Connection) ReadRequestBody(cb func(data []byte, last bool)) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.handler == nil, c.bodyDone:
		return ErrIllegalState
	}

	switch c.parser.State() {
	case http1.Method, http1.URI, http1.Version, http1.Header:
		return ErrIllegalState
	case http1.Body, http1.Done:
	default:
		panic("BUG: unexpected parser state")
	}

	c.bodyCallback = cb
	c.onRead = c.deliverBody
	c.enter()
	c.deliverBody()
	c.leave()

	return nil
}

// WriteResponse serializes the response and writes it as soon as the transport allows.
// onReady is called once the whole response head (and the body, unless streamed) is written.
func (c *Connection) WriteResponse(resp *http.Response, onReady func()) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.handler == nil, c.responded:
		return ErrIllegalState
	}

	fields := resp.Reveal()
	c.stream = streamNone
	if fields.Streamed {
		switch {
		case c.request.Method == method.HEAD || fields.Code < status.OK ||
			fields.Code == status.NoContent || fields.Code == status.NotModified:
			c.stream = streamDiscard
		case fields.Chunked() && c.request.Proto == proto.HTTP10:
			c.stream = streamRaw
			c.keepAlive = false
		case fields.Chunked():
			c.stream = streamChunked
		case fields.StreamLength == 0:
			c.stream = streamDone
		default:
			c.stream = streamSized
			c.streamLeft = fields.StreamLength
		}
	}

	c.out.Clear()
	if err := c.generator.Generate(c.out, c.request, resp, c.keepAlive); err != nil {
		return err
	}

	c.responded = true
	c.onWrite = onReady
	c.awaitWrite()

	return nil
}

// WriteResponseBody writes a piece of a streamed response body. The response must be
// previously written with http.Response.Stream. For chunked streams an empty piece
// terminates the body, for sized ones the body is complete once the declared length
// is written. The data is copied, so it may be reused right after the call.
func (c *Connection) WriteResponseBody(data []byte, onReady func()) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.writePending || c.onWrite != nil:
		return ErrIllegalState
	}

	c.out.Clear()

	switch c.stream {
	case streamChunked:
		if len(data) == 0 {
			_ = c.generator.LastChunk(c.out)
			c.stream = streamDone
		} else {
			_ = c.generator.Chunk(c.out, data)
		}
	case streamSized:
		if int64(len(data)) > c.streamLeft {
			return ErrIllegalState
		}

		_, _ = c.out.Write(data)
		if c.streamLeft -= int64(len(data)); c.streamLeft == 0 {
			c.stream = streamDone
		}
	case streamRaw:
		_, _ = c.out.Write(data)
	case streamDiscard:
	default:
		return ErrIllegalState
	}

	c.onWrite = onReady
	c.awaitWrite()

	return nil
}

// FinishResponse completes the request cycle. The next one is started if the connection
// is kept alive, otherwise the connection is closed. The connection is closed as well if
// the request body wasn't consumed completely or the streamed response wasn't terminated,
// as there's no way to proceed with the byte stream then.
func (c *Connection) FinishResponse() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.handler == nil, !c.responded, c.writePending || c.onWrite != nil:
		return ErrIllegalState
	}

	switch {
	case !c.keepAlive:
		c.log.Debug("closing non-persistent connection")
	case c.parser.State() != http1.Done:
		c.log.Debug("closing as the request body wasn't consumed")
	case c.stream != streamNone && c.stream != streamDone && c.stream != streamDiscard:
		c.log.Debug("closing as the response body wasn't terminated")
	default:
		c.enter()
		c.startCycle()
		c.leave()

		return nil
	}

	return c.Close()
}

// Close closes the transport and drops the owning reference. The connection is released once
// every pending continuation has run. Subsequent calls are no-op.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}

	c.closed = true
	err := c.transport.Close()
	c.log.Debug("connection closed", zap.Error(err))
	c.release()

	return err
}

// Drain makes the connection close as soon as it's idle, i.e. waiting for a request of which
// not a single byte arrived yet. The current request cycle, if any, is completed first. Unlike
// the rest of the methods, it's safe to call from any goroutine.
func (c *Connection) Drain() {
	if c.draining.Swap(true) {
		return
	}

	if it, ok := c.transport.(Interruptible); ok {
		it.Interrupt()
	}
}

func (c *Connection) idle() bool {
	return c.handler == nil && c.parser.Idle() && len(c.in.Pending()) == 0
}

func (c *Connection) startCycle() {
	c.parser.Reset()
	c.request = http.NewRequest(kv.NewPrealloc(c.cfg.Headers.Number.Default))
	c.handler = nil
	c.onWrite = nil
	c.bodyCallback = nil
	c.body = c.body[:0]
	c.uriBuff = c.uriBuff[:0]
	c.reqErr = nil
	c.dispatchNow = false
	c.stream = streamNone
	c.streamLeft = 0
	c.responded = false
	c.bodyDone = false
	c.keepAlive = false
	c.onRead = c.awaitHeaders

	if len(c.in.Pending()) > 0 {
		// the previous read brought bytes of this request already. They are processed
		// as soon as the current continuation is over.
		c.resume = true
		return
	}

	if c.draining.Load() {
		c.log.Debug("closing idle connection as the server is draining")
		_ = c.Close()
		return
	}

	c.awaitRead()
}

func (c *Connection) awaitHeaders() {
	if c.parser.State() < http1.Body {
		c.awaitRead()
	}
}

func (c *Connection) deliverBody() {
	last := c.parser.State() == http1.Done
	if len(c.body) > 0 || last {
		c.bodyDone = last
		c.bodyCallback(c.body, last)
		c.body = c.body[:0]
	}

	if !last && !c.closed && c.parser.State() == http1.Body {
		c.awaitRead()
	}
}

func (c *Connection) awaitRead() {
	if c.closed || c.readPending {
		return
	}

	c.readPending = true
	c.refs.Add(1)
	c.scheduler.RunOnReadable(c.transport, c.readable)
}

func (c *Connection) awaitWrite() {
	if c.closed || c.writePending {
		return
	}

	c.writePending = true
	c.refs.Add(1)
	c.scheduler.RunOnWritable(c.transport, c.writable)
}

// readable is the continuation of a read registration.
func (c *Connection) readable() {
	c.enter()
	c.readPending = false
	if !c.closed {
		c.onReadable()
	}
	c.leave()
	c.release()
}

func (c *Connection) onReadable() {
	if len(c.in.Pending()) == 0 {
		c.in.Clear()
	}

	space := c.in.Space(c.cfg.NET.ReadBufferSize)
	n, err := c.transport.Read(space)
	if n > 0 {
		c.in.Commit(n)
		c.metrics.Read(n)
		c.process()
	}

	switch {
	case c.closed:
	case err == nil && n > 0:
	case n == 0 && errors.Is(err, ErrWouldBlock):
		if c.draining.Load() && c.idle() {
			c.log.Debug("closing idle connection as the server is draining")
			_ = c.Close()
			return
		}

		c.awaitRead()
	case err == nil, errors.Is(err, io.EOF):
		if err := c.parser.EOF(); err != nil {
			c.log.Debug("peer closed the connection in the middle of the request", zap.Error(err))
		}

		_ = c.Close()
	default:
		c.log.Debug("read failed", zap.Error(err))
		_ = c.Close()
	}
}

// writable is the continuation of a write registration.
func (c *Connection) writable() {
	c.enter()
	c.writePending = false
	if !c.closed {
		c.onWritable()
	}
	c.leave()
	c.release()
}

func (c *Connection) onWritable() {
	if pending := c.out.Pending(); len(pending) > 0 {
		n, err := c.transport.Write(pending)
		if n > 0 {
			c.out.SetMark(c.out.Mark() + n)
			c.metrics.Written(n)
		}

		if err != nil && !errors.Is(err, ErrWouldBlock) {
			c.log.Debug("write failed", zap.Error(err))
			_ = c.Close()
			return
		}

		if len(c.out.Pending()) > 0 {
			c.awaitWrite()
			return
		}
	}

	c.out.Clear()
	if cap(c.out.Bytes()) > c.cfg.NET.WriteBufferSize.Maximal {
		// don't keep a huge buffer forever just because of a single huge response
		c.shrinkOut()
	}

	onReady := c.onWrite
	c.onWrite = nil
	if onReady != nil {
		onReady()
	}
}

func (c *Connection) shrinkOut() {
	c.out.Release()
	c.out = buffer.AcquireIO(c.cfg.NET.WriteBufferSize.Default)
}

// process feeds the received data into the parser. Dispatch is postponed until the parser
// returns, so the handler always sees a consistent parser state.
func (c *Connection) process() {
	data := c.in.Pending()
	extra, err := c.parser.Parse(data)
	c.in.SetMark(c.in.Mark() + len(data) - len(extra))
	if err == nil {
		err = c.reqErr
	}

	if err != nil {
		c.fail(err)
		return
	}

	if c.dispatchNow {
		c.dispatchNow = false
		c.dispatch()
		return
	}

	if c.onRead != nil {
		c.onRead()
	}
}

func (c *Connection) dispatch() {
	c.metrics.Dispatched()
	c.keepAlive = c.request.KeepAlive()
	c.handler = c.factory.Handler(c, c.request)
	if c.handler == nil {
		c.log.Warn("no handler produced for the request", zap.String("uri", c.request.URI))
		_ = c.Close()
		return
	}

	c.handler.HandleHTTPRequest()
}

// fail terminates the connection after a malformed request. If enabled and the handler
// didn't respond yet, an error response is sent first.
func (c *Connection) fail(err error) {
	c.dispatchNow = false
	c.metrics.ParseError()
	c.log.Debug("malformed request", zap.Error(err))

	if !c.cfg.HTTP.ErrorResponses || c.responded || c.writePending || c.onWrite != nil {
		_ = c.Close()
		return
	}

	c.responded = true
	c.out.Clear()
	resp := http.NewResponse().Error(err)
	if err := c.generator.Generate(c.out, c.request, resp, false); err != nil {
		_ = c.Close()
		return
	}

	c.onWrite = func() {
		_ = c.Close()
	}
	c.awaitWrite()
}

// enter and leave bracket every piece of code driven by the connection itself. Once the
// outermost one is over, postponed work is done.
func (c *Connection) enter() {
	c.depth++
}

func (c *Connection) leave() {
	if c.depth--; c.depth > 0 {
		return
	}

	for c.resume && !c.closed {
		c.resume = false
		c.depth++
		c.process()
		c.depth--
	}
}

func (c *Connection) release() {
	if c.refs.Add(-1) > 0 {
		return
	}

	c.in.Release()
	c.out.Release()
	c.metrics.Released()
	c.log.Debug("connection released")
	if c.onRelease != nil {
		c.onRelease(c)
	}

	close(c.done)
}

func (c *Connection) onMethod(m method.Method) {
	c.request.Method = m
}

func (c *Connection) onURI(uri []byte) {
	c.request.URI = string(uri)

	path, query := uri, []byte(nil)
	if q := bytes.IndexByte(uri, '?'); q != -1 {
		path, query = uri[:q], uri[q+1:]
	}

	decoded, err := uridecode.Decode(path, c.uriBuff[:0])
	if err != nil {
		c.reqErr = err
		return
	}

	c.request.Path = string(decoded)
	c.request.Query = string(query)
}

func (c *Connection) onVersion(p proto.Proto) {
	c.request.Proto = p
}

func (c *Connection) onHeader(key, value []byte) {
	c.request.Headers.Add(string(key), string(value))
}

func (c *Connection) onHeadersComplete() {
	c.request.ContentLength = c.parser.ContentLength()
	c.request.Chunked = c.parser.Chunked()
	c.dispatchNow = true
}

func (c *Connection) onBody(chunk []byte) {
	c.body = append(c.body, chunk...)
}
