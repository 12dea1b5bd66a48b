package body

import (
	"errors"
	"fmt"
	"io"
)

// StreamSource pulls from an io.Reader. A read that yields zero bytes ends
// the body.
type StreamSource struct {
	r        io.Reader
	eof      bool
	err      error
	onData   func()
	consumed bool
}

// NewStreamSource returns a Source reading from r. If r is an io.Closer it is
// closed by Close.
func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{r: r}
}

func (s *StreamSource) Pull(maxLength int) Chunk {
	checkLength(maxLength)

	if s.err != nil {
		return errorChunk(s.err)
	}
	if s.eof {
		return doneChunk
	}

	p := make([]byte, maxLength)
	n, err := s.r.Read(p)
	switch {
	case n > 0:
		switch {
		case errors.Is(err, io.EOF):
			s.eof = true
		case err != nil:
			s.err = fmt.Errorf("reading body stream: %w", err)
		}
		if !s.consumed {
			s.consumed = true
			if s.onData != nil {
				s.onData()
			}
		}
		return dataChunk(p[:n])
	case err == nil, errors.Is(err, io.EOF):
		s.eof = true
		return doneChunk
	default:
		s.err = fmt.Errorf("reading body stream: %w", err)
		return errorChunk(s.err)
	}
}

func (s *StreamSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
