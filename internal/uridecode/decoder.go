// Package uridecode unescapes percent-encoded request paths.
package uridecode

import (
	"bytes"

	"github.com/indigo-web/evhttp/http/status"
)

// Decode unescapes every %XX sequence of src. The result is appended to buff. When src
// contains no escapes at all it's returned untouched and buff stays unused.
func Decode(src, buff []byte) ([]byte, error) {
	if bytes.IndexByte(src, '%') == -1 {
		return src, nil
	}

	for len(src) > 0 {
		pct := bytes.IndexByte(src, '%')
		if pct == -1 {
			return append(buff, src...), nil
		}

		if len(src)-pct < 3 {
			return nil, status.ErrURIDecoding
		}

		hi, lo := fromHex[src[pct+1]], fromHex[src[pct+2]]
		if hi|lo == invalid {
			return nil, status.ErrURIDecoding
		}

		buff = append(append(buff, src[:pct]...), hi<<4|lo)
		src = src[pct+3:]
	}

	return buff, nil
}

const invalid = 0xff

var fromHex = func() (table [256]byte) {
	for i := range table {
		table[i] = invalid
	}

	for c := '0'; c <= '9'; c++ {
		table[c] = byte(c - '0')
	}

	for c := 'a'; c <= 'f'; c++ {
		table[c] = byte(c - 'a' + 10)
		table[c-'a'+'A'] = byte(c - 'a' + 10)
	}

	return table
}()
