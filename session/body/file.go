package body

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/adamwoolhether/xfer/session/workqueue"
)

// readAheadFactor sizes the read-ahead buffer as a multiple of the maximum
// write size.
const readAheadFactor = 3

// FileSource reads a file ahead of the transport on a background goroutine.
// Pull never blocks: while the buffer is empty it reports ChunkRetryLater
// and schedules another read, and onReadable is posted to exec once bytes
// arrive in an empty buffer.
type FileSource struct {
	f          *os.File
	exec       workqueue.Executor
	onReadable func()
	desired    int

	mu      sync.Mutex
	buf     []byte
	reading bool
	eof     bool
	err     error
	closed  bool
}

// NewFileSource opens path and starts reading ahead up to three times
// maxWriteSize bytes.
func NewFileSource(path string, maxWriteSize int, exec workqueue.Executor, onReadable func()) (*FileSource, error) {
	if maxWriteSize <= 0 {
		return nil, fmt.Errorf("max write size must be positive, got %d", maxWriteSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening body file: %w", err)
	}

	if exec == nil {
		exec = workqueue.Concurrent{}
	}

	s := &FileSource{
		f:          f,
		exec:       exec,
		onReadable: onReadable,
		desired:    readAheadFactor * maxWriteSize,
	}

	s.mu.Lock()
	s.scheduleRead()
	s.mu.Unlock()

	return s, nil
}

func (s *FileSource) Pull(maxLength int) Chunk {
	checkLength(maxLength)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return errorChunk(s.err)
	}

	if len(s.buf) == 0 {
		if s.eof {
			return doneChunk
		}
		s.scheduleRead()
		return retryLaterChunk
	}

	n := min(maxLength, len(s.buf))
	head := bytes.Clone(s.buf[:n])
	s.buf = s.buf[n:]
	s.scheduleRead()

	return dataChunk(head)
}

// Close stops further reads and closes the file.
func (s *FileSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	s.mu.Unlock()

	return s.f.Close()
}

// scheduleRead starts a background read unless one is in flight, the buffer
// is full or the file is exhausted. s.mu must be held.
func (s *FileSource) scheduleRead() {
	if s.closed || s.reading || s.eof || s.err != nil || len(s.buf) >= s.desired {
		return
	}
	s.reading = true

	go s.read(s.desired - len(s.buf))
}

func (s *FileSource) read(n int) {
	p := make([]byte, n)

	var (
		total int
		err   error
	)
	for total < n {
		var m int
		m, err = s.f.Read(p[total:])
		total += m
		if err != nil {
			break
		}
	}

	s.mu.Lock()
	s.reading = false
	if s.closed {
		s.mu.Unlock()
		return
	}

	wasEmpty := len(s.buf) == 0
	switch {
	case err == nil:
		s.buf = append(s.buf, p[:total]...)
	case errors.Is(err, io.EOF):
		s.buf = append(s.buf, p[:total]...)
		s.eof = true
	default:
		s.buf = nil
		s.err = fmt.Errorf("reading body file: %w", err)
	}

	notify := s.onReadable != nil && wasEmpty && (len(s.buf) > 0 || s.eof || s.err != nil)
	s.scheduleRead()
	s.mu.Unlock()

	if notify {
		s.exec.Async(s.onReadable)
	}
}
