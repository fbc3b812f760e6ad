package buffer

// Segments accumulates byte sequences that may arrive split across several reads. Each
// sealed segment stays valid until Reset, since all of them share one bounded region.
type Segments struct {
	data  []byte
	start int
	limit int
}

func NewSegments(initial, limit int) *Segments {
	return &Segments{
		data:  make([]byte, 0, initial),
		limit: limit,
	}
}

// Append extends the open segment. It reports false and leaves the storage untouched when
// the limit would be exceeded.
func (s *Segments) Append(p []byte) bool {
	if len(s.data)+len(p) > s.limit {
		return false
	}

	s.data = append(s.data, p...)
	return true
}

// Open is the length of the segment being accumulated.
func (s *Segments) Open() int {
	return len(s.data) - s.start
}

// Seal closes the open segment and returns it.
func (s *Segments) Seal() []byte {
	seg := s.data[s.start:len(s.data):len(s.data)]
	s.start = len(s.data)
	return seg
}

func (s *Segments) Size() int {
	return len(s.data)
}

// Reset invalidates all the segments handed out so far.
func (s *Segments) Reset() {
	s.data, s.start = s.data[:0], 0
}
