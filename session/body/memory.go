package body

// MemorySource yields slices of an in-memory buffer.
type MemorySource struct {
	data []byte
}

// NewMemorySource returns a Source over data. The slice is not copied and
// must not be modified while the source is in use.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (s *MemorySource) Pull(maxLength int) Chunk {
	checkLength(maxLength)

	if len(s.data) == 0 {
		return doneChunk
	}

	n := min(maxLength, len(s.data))
	head := s.data[:n:n]
	s.data = s.data[n:]

	return dataChunk(head)
}

func (s *MemorySource) Close() error { return nil }
