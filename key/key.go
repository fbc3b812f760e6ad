// Package key implements an identifier which is either an integer or a text, but never both.
package key

import (
	"errors"
	"strconv"
	"strings"
)

// ErrWrongVariant is returned when a value of the variant the key doesn't hold is requested.
var ErrWrongVariant = errors.New("key: requested variant is not held")

type Key struct {
	str   string
	num   uint64
	isStr bool
}

func Int(num uint64) Key {
	return Key{num: num}
}

func String(str string) Key {
	return Key{str: str, isStr: true}
}

func (k Key) IsInt() bool {
	return !k.isStr
}

func (k Key) IsString() bool {
	return k.isStr
}

// Int returns the integer value or ErrWrongVariant if the key holds a text.
func (k Key) Int() (uint64, error) {
	if k.isStr {
		return 0, ErrWrongVariant
	}

	return k.num, nil
}

// Str returns the text value or ErrWrongVariant if the key holds an integer.
func (k Key) Str() (string, error) {
	if !k.isStr {
		return "", ErrWrongVariant
	}

	return k.str, nil
}

// Equal reports whether both keys hold the same variant with the same value.
func (k Key) Equal(other Key) bool {
	return k == other
}

// Compare orders integer keys before text keys, and values of the same variant naturally.
func (k Key) Compare(other Key) int {
	switch {
	case k.isStr != other.isStr:
		if k.isStr {
			return 1
		}

		return -1
	case k.isStr:
		return strings.Compare(k.str, other.str)
	case k.num < other.num:
		return -1
	case k.num > other.num:
		return 1
	default:
		return 0
	}
}

func (k Key) String() string {
	if k.isStr {
		return strconv.Quote(k.str)
	}

	return strconv.FormatUint(k.num, 10)
}
