// Package proto enumerates the HTTP versions a connection can speak.
package proto

import "github.com/indigo-web/utils/uf"

// Proto is an HTTP version. Zero means the version line couldn't be recognized.
type Proto uint8

const (
	Unknown Proto = iota
	HTTP10
	HTTP11
)

var names = [...]string{
	HTTP10: "HTTP/1.0",
	HTTP11: "HTTP/1.1",
}

func (p Proto) String() string {
	if int(p) < len(names) {
		return names[p]
	}

	return ""
}

// FromBytes recognizes a version token as it appears on the request line. Anything but
// HTTP/1.0 and HTTP/1.1 is Unknown.
func FromBytes(token []byte) Proto {
	if len(token) != len("HTTP/1.x") || uf.B2S(token[:len("HTTP/1.")]) != "HTTP/1." {
		return Unknown
	}

	switch token[len(token)-1] {
	case '0':
		return HTTP10
	case '1':
		return HTTP11
	default:
		return Unknown
	}
}
