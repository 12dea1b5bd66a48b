package body

import (
	"io"
	"os"
	"sync"

	"github.com/adamwoolhether/xfer/session/workqueue"
)

// Kind identifies where a Body's bytes come from.
type Kind int

const (
	KindNone Kind = iota
	KindData
	KindFile
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindFile:
		return "file"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// Body describes the bytes to upload with a request. The zero value is an
// empty body.
type Body struct {
	kind   Kind
	data   []byte
	path   string
	stream *streamState
}

type streamState struct {
	mu       sync.Mutex
	r        io.Reader
	rewind   func() (io.ReadCloser, error)
	consumed bool
}

// None returns an empty Body.
func None() Body { return Body{} }

// Data returns a Body over an in-memory buffer.
func Data(p []byte) Body { return Body{kind: KindData, data: p} }

// File returns a Body that reads the file at path when a source is opened.
func File(path string) Body { return Body{kind: KindFile, path: path} }

// Stream returns a Body over r. rewind, when non-nil, supplies a fresh copy
// of the stream for retries and redirects once r has been read from.
func Stream(r io.Reader, rewind func() (io.ReadCloser, error)) Body {
	return Body{kind: KindStream, stream: &streamState{r: r, rewind: rewind}}
}

func (b Body) Kind() Kind { return b.kind }

// Path returns the file path of a KindFile body.
func (b Body) Path() string { return b.path }

// Length reports the body size in bytes. known is false for streams and for
// files that cannot be inspected.
func (b Body) Length() (n int64, known bool) {
	switch b.kind {
	case KindNone:
		return 0, true
	case KindData:
		return int64(len(b.data)), true
	case KindFile:
		fi, err := os.Stat(b.path)
		if err != nil {
			return 0, false
		}
		return fi.Size(), true
	default:
		return -1, false
	}
}

// SourceOptions configures NewSource.
type SourceOptions struct {
	// MaxWriteSize bounds file read-ahead.
	MaxWriteSize int
	// Exec receives file readiness callbacks. Defaults to a new goroutine.
	Exec workqueue.Executor
	// OnReadable is posted to Exec when a file source has bytes again.
	OnReadable func()
}

// NewSource opens a Source for one transfer attempt. It returns a nil Source
// for an empty body, and ErrNotRewindable for a stream that has already
// been consumed and cannot be rewound.
func (b Body) NewSource(opts SourceOptions) (Source, error) {
	switch b.kind {
	case KindData:
		return NewMemorySource(b.data), nil
	case KindFile:
		return NewFileSource(b.path, opts.MaxWriteSize, opts.Exec, opts.OnReadable)
	case KindStream:
		return b.stream.source()
	default:
		return nil, nil
	}
}

func (st *streamState) source() (Source, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.consumed {
		src := NewStreamSource(st.r)
		src.onData = st.markConsumed
		return src, nil
	}

	if st.rewind == nil {
		return nil, ErrNotRewindable
	}

	rc, err := st.rewind()
	if err != nil {
		return nil, err
	}
	st.r = rc

	src := NewStreamSource(rc)
	src.onData = st.markConsumed
	return src, nil
}

func (st *streamState) markConsumed() {
	st.mu.Lock()
	st.consumed = true
	st.mu.Unlock()
}
