package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegments(t *testing.T) {
	t.Run("sealed segments survive growth", func(t *testing.T) {
		s := NewSegments(4, 64)
		require.True(t, s.Append([]byte("GET")))
		method := s.Seal()
		require.True(t, s.Append([]byte("/very/long")))
		require.True(t, s.Append([]byte("/path")))
		require.Equal(t, 15, s.Open())
		path := s.Seal()

		require.Equal(t, "GET", string(method))
		require.Equal(t, "/very/long/path", string(path))
		require.Zero(t, s.Open())
		require.Equal(t, 18, s.Size())
	})

	t.Run("limit", func(t *testing.T) {
		s := NewSegments(8, 10)
		require.True(t, s.Append([]byte("0123456")))
		require.False(t, s.Append([]byte("789a")))
		require.True(t, s.Append([]byte("789")))
		require.Equal(t, "0123456789", string(s.Seal()))
	})

	t.Run("sealed segment can't be extended in place", func(t *testing.T) {
		s := NewSegments(16, 16)
		require.True(t, s.Append([]byte("key")))
		key := s.Seal()
		require.True(t, s.Append([]byte("value")))
		key = append(key, '!')
		require.Equal(t, "value", string(s.Seal()))
		require.Equal(t, "key!", string(key))
	})

	t.Run("reset", func(t *testing.T) {
		s := NewSegments(8, 8)
		require.True(t, s.Append([]byte("12345678")))
		s.Seal()
		require.False(t, s.Append([]byte("9")))
		s.Reset()
		require.Zero(t, s.Size())
		require.True(t, s.Append([]byte("9")))
		require.Equal(t, "9", string(s.Seal()))
	})
}
