package body

import (
	"errors"
	"fmt"
)

// ErrNotRewindable is returned when a stream body has already been partly
// consumed and no way to obtain a fresh copy was supplied.
var ErrNotRewindable = errors.New("request body stream cannot be rewound")

// ChunkKind identifies the outcome of a single pull.
type ChunkKind int

const (
	ChunkData ChunkKind = iota
	ChunkDone
	ChunkRetryLater
	ChunkError
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkData:
		return "data"
	case ChunkDone:
		return "done"
	case ChunkRetryLater:
		return "retry-later"
	case ChunkError:
		return "error"
	default:
		return fmt.Sprintf("ChunkKind(%d)", int(k))
	}
}

// Chunk is the result of pulling from a Source. Data is only set for
// ChunkData and is never longer than the requested maximum; Err is only set
// for ChunkError.
type Chunk struct {
	Kind ChunkKind
	Data []byte
	Err  error
}

// Source yields the bytes of a request body in order. A Source belongs to a
// single transfer attempt and is not safe for concurrent pulls.
type Source interface {
	// Pull returns at most maxLength bytes. maxLength must be positive.
	Pull(maxLength int) Chunk
	// Close releases the underlying file or stream.
	Close() error
}

func dataChunk(p []byte) Chunk { return Chunk{Kind: ChunkData, Data: p} }

var (
	doneChunk       = Chunk{Kind: ChunkDone}
	retryLaterChunk = Chunk{Kind: ChunkRetryLater}
)

func errorChunk(err error) Chunk { return Chunk{Kind: ChunkError, Err: err} }

func checkLength(maxLength int) {
	if maxLength <= 0 {
		panic(fmt.Sprintf("body: pull length must be positive, got %d", maxLength))
	}
}
