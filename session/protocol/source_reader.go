package protocol

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/adamwoolhether/xfer/session/body"
)

// retryInterval bounds how long a reader waits on an unready source before
// pulling again.
const retryInterval = 50 * time.Millisecond

// sourceReader adapts a pull-based body.Source to the io.Reader the
// transport consumes.
type sourceReader struct {
	ctx   context.Context
	src   body.Source
	ready <-chan struct{}
	sent  func(n int)
}

func (r *sourceReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		c := r.src.Pull(len(p))
		switch c.Kind {
		case body.ChunkData:
			n := copy(p, c.Data)
			r.sent(n)
			return n, nil
		case body.ChunkDone:
			return 0, io.EOF
		case body.ChunkError:
			return 0, fmt.Errorf("reading request body: %w", c.Err)
		case body.ChunkRetryLater:
			timer := time.NewTimer(retryInterval)
			select {
			case <-r.ready:
			case <-timer.C:
			case <-r.ctx.Done():
				timer.Stop()
				return 0, r.ctx.Err()
			}
			timer.Stop()
		}
	}
}

// Close is a no-op; the transfer state owns the source.
func (r *sourceReader) Close() error { return nil }
