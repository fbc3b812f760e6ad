package status

import "errors"

// HTTPError carries a status code alongside the message, so whoever catches it knows what
// to respond with.
type HTTPError struct {
	Message string
	Code    Code
}

func NewError(code Code, message string) error {
	return HTTPError{
		Code:    code,
		Message: message,
	}
}

func (h HTTPError) Error() string {
	return h.Message
}

// CodeOf extracts the status code out of the error. Errors which aren't HTTPError result
// in InternalServerError.
func CodeOf(err error) Code {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}

	return InternalServerError
}

var (
	ErrBadRequest              = NewError(BadRequest, "bad request")
	ErrTooLongRequestLine      = NewError(BadRequest, "request line is too long")
	ErrURIDecoding             = NewError(BadRequest, "invalid urlencoded sequence")
	ErrBadChunk                = NewError(BadRequest, "malformed chunk-encoded data")
	ErrBadContentLength        = NewError(BadRequest, "malformed Content-Length value")
	ErrIncompleteRequest       = NewError(BadRequest, "connection closed in the middle of the request")
	ErrMethodNotImplemented    = NewError(NotImplemented, "request method is not supported")
	ErrBodyTooLarge            = NewError(RequestEntityTooLarge, "request body is too large")
	ErrHeaderFieldsTooLarge    = NewError(RequestHeaderFieldsTooLarge, "too large headers section")
	ErrTooManyHeaders          = NewError(RequestHeaderFieldsTooLarge, "too many headers")
	ErrURITooLong              = NewError(RequestURITooLong, "request URI too long")
	ErrUnsupportedProtocol     = NewError(HTTPVersionNotSupported, "protocol is not supported")
	ErrUnsupportedEncoding     = NewError(NotImplemented, "transfer encoding is not supported")
	ErrInternalServerError     = NewError(InternalServerError, "internal server error")
	ErrHTTPVersionNotSupported = NewError(HTTPVersionNotSupported, "HTTP version not supported")
)
