package httpconn

// State is the stage of the request cycle a connection is at.
type State uint8

const (
	AwaitingRequestLine State = iota + 1
	AwaitingHeaders
	// Dispatched means the handler owns the request: the headers are parsed, however the
	// body wasn't requested yet.
	Dispatched
	// AwaitingBody means the handler is pulling the request body.
	AwaitingBody
	WritingResponse
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingRequestLine:
		return "awaiting request line"
	case AwaitingHeaders:
		return "awaiting headers"
	case Dispatched:
		return "dispatched"
	case AwaitingBody:
		return "awaiting body"
	case WritingResponse:
		return "writing response"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
