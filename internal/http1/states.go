package http1

// State is the position of the parser within a single request. States are ordered, so
// comparisons like `state < Body` are meaningful.
type State uint8

const (
	Method State = iota + 1
	URI
	Version
	Header
	Body
	Done
)

func (s State) String() string {
	switch s {
	case Method:
		return "method"
	case URI:
		return "uri"
	case Version:
		return "version"
	case Header:
		return "header"
	case Body:
		return "body"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

type headerState uint8

const (
	eHeaderKey headerState = iota + 1
	eHeaderValue
	eHeadersCR
)
