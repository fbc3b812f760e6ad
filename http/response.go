package http

import (
	"github.com/indigo-web/evhttp/http/mime"
	"github.com/indigo-web/evhttp/http/status"
	"github.com/indigo-web/evhttp/kv"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
	json "github.com/json-iterator/go"
)

const (
	// why 7? I don't know. There's no theory behind this number nor researches.
	preallocRespHeaders = 7
	DefaultContentType  = mime.HTML
)

// Unsized marks a streamed body whose length isn't known in advance, so it is transferred
// using chunked transfer encoding.
const Unsized int64 = -1

// Fields are the values set by the Response builder.
type Fields struct {
	Code        status.Code
	Status      status.Status
	ContentType string
	Headers     []kv.Pair
	Body        []byte
	// Streamed responses have their body written piece by piece after the headers. Body
	// is ignored in this case.
	Streamed bool
	// StreamLength is either Unsized or the exact number of bytes the stream will produce.
	StreamLength int64
}

func (f Fields) Chunked() bool {
	return f.Streamed && f.StreamLength == Unsized
}

type Response struct {
	fields *Fields
}

// NewResponse returns a new instance of the Response object with status code set to 200 OK,
// pre-allocated space for response headers and text/html content-type.
func NewResponse() *Response {
	return &Response{
		&Fields{
			Code:        status.OK,
			Headers:     make([]kv.Pair, 0, preallocRespHeaders),
			ContentType: DefaultContentType,
		},
	}
}

// Code sets a Response code and a corresponding status.
func (r *Response) Code(code status.Code) *Response {
	r.fields.Code = code
	return r
}

// Status sets a custom status text. Usually ignored by clients, so there are rarely reasons
// to use it.
func (r *Response) Status(status status.Status) *Response {
	r.fields.Status = status
	return r
}

// ContentType sets a custom Content-Type header value.
func (r *Response) ContentType(value mime.MIME) *Response {
	r.fields.ContentType = value
	return r
}

// Header sets header values to a key. In case it already exists the value will
// be appended.
func (r *Response) Header(key string, values ...string) *Response {
	if strcomp.EqualFold(key, "content-type") && len(values) > 0 {
		return r.ContentType(values[0])
	}

	for _, value := range values {
		r.fields.Headers = append(r.fields.Headers, kv.Pair{
			Key:   key,
			Value: value,
		})
	}

	return r
}

// String sets the response's body to the passed string
func (r *Response) String(body string) *Response {
	return r.Bytes(uf.S2B(body))
}

// Bytes sets the response's body to passed slice WITHOUT COPYING. Changing
// the passed slice later will affect the response by itself
func (r *Response) Bytes(body []byte) *Response {
	r.fields.Body = body
	return r
}

// Write implements io.Writer interface. It always returns n=len(b) and err=nil
func (r *Response) Write(b []byte) (n int, err error) {
	r.fields.Body = append(r.fields.Body, b...)
	return len(b), nil
}

// Stream marks the response body as streamed. The length is either known in advance or
// Unsized, which results in chunked transfer encoding. The body itself must be then written
// via the connection's WriteResponseBody.
func (r *Response) Stream(length int64) *Response {
	r.fields.Streamed = true
	r.fields.StreamLength = length
	r.fields.Body = nil
	return r
}

// TryJSON serializes the model into the body and returns an error if the serialization
// failed
func (r *Response) TryJSON(model any) (*Response, error) {
	r.fields.Body = r.fields.Body[:0]
	stream := json.ConfigDefault.BorrowStream(r)
	stream.WriteVal(model)
	err := stream.Flush()
	json.ConfigDefault.ReturnStream(stream)

	return r.ContentType(mime.JSON), err
}

// JSON does the same as TryJSON does, except returned error is being implicitly wrapped
// by Error
func (r *Response) JSON(model any) *Response {
	resp, err := r.TryJSON(model)
	if err != nil {
		return r.Error(err)
	}

	return resp
}

// Error sets the response code from the error. If an instance of status.HTTPError is passed,
// its code and message are used, otherwise it is 500 Internal Server Error.
func (r *Response) Error(err error) *Response {
	if err == nil {
		return r
	}

	return r.
		Code(status.CodeOf(err)).
		ContentType(mime.Plain).
		String(err.Error())
}

// Reveal returns a struct with values, filled by builder. Used mostly in internal purposes
func (r *Response) Reveal() *Fields {
	return r.fields
}

// Clear discards everything was done with Response object before
func (r *Response) Clear() *Response {
	*r.fields = Fields{
		Code:        status.OK,
		Headers:     r.fields.Headers[:0],
		ContentType: DefaultContentType,
	}

	return r
}
