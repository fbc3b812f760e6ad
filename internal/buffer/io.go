package buffer

import "github.com/valyala/bytebufferpool"

// IO is the byte region a connection reads into and writes from. The mark tracks how much of
// the content was already consumed by partial writes. The underlying memory is borrowed from
// a pool and must be returned via Release.
type IO struct {
	bb   *bytebufferpool.ByteBuffer
	mark int
}

// AcquireIO borrows a buffer from the pool, ensuring its capacity is at least size bytes.
func AcquireIO(size int) *IO {
	bb := bytebufferpool.Get()
	if cap(bb.B) < size {
		bb.B = make([]byte, 0, size)
	}

	return &IO{bb: bb}
}

// Release returns the memory to the pool. The buffer must not be used afterward.
func (b *IO) Release() {
	if b.bb != nil {
		bytebufferpool.Put(b.bb)
		b.bb = nil
	}
}

// Clear resets both the mark and the length, keeping the capacity.
func (b *IO) Clear() {
	b.bb.Reset()
	b.mark = 0
}

// Write implements io.Writer, so the buffer can be used as a serialization sink.
func (b *IO) Write(p []byte) (int, error) {
	return b.bb.Write(p)
}

func (b *IO) WriteString(s string) (int, error) {
	return b.bb.WriteString(s)
}

// Bytes returns the whole content, regardless of the mark.
func (b *IO) Bytes() []byte {
	return b.bb.B
}

func (b *IO) Len() int {
	return len(b.bb.B)
}

func (b *IO) Mark() int {
	return b.mark
}

// SetMark moves the mark, clamping it to the content length.
func (b *IO) SetMark(mark int) {
	if mark > len(b.bb.B) {
		mark = len(b.bb.B)
	}

	b.mark = mark
}

// Pending returns the content past the mark, i.e. what is yet to be written.
func (b *IO) Pending() []byte {
	return b.bb.B[b.mark:]
}

// Space returns the spare room after the content, extended to hold at least n bytes.
// Bytes placed there become a part of the content after Commit.
func (b *IO) Space(n int) []byte {
	if free := cap(b.bb.B) - len(b.bb.B); free < n {
		grown := make([]byte, len(b.bb.B), len(b.bb.B)+n)
		copy(grown, b.bb.B)
		b.bb.B = grown
	}

	return b.bb.B[len(b.bb.B):cap(b.bb.B)]
}

// Commit appends n bytes previously placed into Space.
func (b *IO) Commit(n int) {
	b.bb.B = b.bb.B[:len(b.bb.B)+n]
}
