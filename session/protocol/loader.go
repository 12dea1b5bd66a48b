package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sync"

	"github.com/adamwoolhether/xfer/session/transfer"
)

type phase int

const (
	phaseInitial phase = iota
	phaseRunning
	phasePaused
	phaseStopped
)

// loader is the start, pause and stop machinery shared by the protocols.
type loader struct {
	d    *Driver
	t    Transfer
	c    Client
	self Protocol
	work WorkFunc

	mu     sync.Mutex
	phase  phase
	run    *Run
	resume chan struct{}
}

func (l *loader) StartLoading() {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.phase {
	case phaseInitial:
		l.phase = phaseRunning
		l.run = l.d.Start(context.Background(), l.work, func(err error) {
			l.c.DidFail(l.self, wrap(l.t.CurrentRequest().URL, err))
		})
	case phasePaused:
		l.phase = phaseRunning
		close(l.resume)
		l.resume = nil
	}
}

// StopLoading pauses the transfer while its task is suspended and cancels
// it otherwise.
func (l *loader) StopLoading() {
	l.mu.Lock()
	defer l.mu.Unlock()

	suspended := l.t.IsSuspended()

	switch l.phase {
	case phaseInitial:
		if !suspended {
			l.phase = phaseStopped
		}
	case phaseRunning:
		if suspended {
			l.phase = phasePaused
			l.resume = make(chan struct{})
			return
		}
		l.phase = phaseStopped
		l.run.Cancel()
	case phasePaused:
		if !suspended {
			l.phase = phaseStopped
			l.resume = nil
			l.run.Cancel()
		}
	}
}

// waitIfPaused blocks while the transfer is paused. The concurrency slot
// is free for other transfers in the meantime.
func (l *loader) waitIfPaused(ctx context.Context) error {
	l.mu.Lock()
	ch, run := l.resume, l.run
	l.mu.Unlock()

	if ch == nil {
		return nil
	}

	return l.d.park(ctx, run, func() error {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// readBody copies r into state's drain in chunks of at most the driver's
// write size, reporting each chunk to the client.
func (l *loader) readBody(ctx context.Context, r io.Reader, state *transfer.State) error {
	buf := make([]byte, l.d.maxWriteSize)
	for {
		n, err := r.Read(buf)
		if perr := l.waitIfPaused(ctx); perr != nil {
			return perr
		}

		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			next, werr := state.AppendBodyData(chunk)
			if werr != nil {
				return NewError(CodeCannotWriteToFile, state.URL(), werr)
			}
			*state = next
			l.c.DidLoad(l.self, chunk)
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// fail releases the attempt's resources and reports err unless the
// transfer was cancelled through StopLoading.
func (l *loader) fail(ctx context.Context, state transfer.State, u *url.URL, err error) error {
	state.WithBodySource(nil)
	if cerr := state.Drain().Close(); cerr != nil {
		l.d.logger.Error("closing drain after failure", "task", l.t.ID(), "error", cerr)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	e := wrap(u, err)
	l.c.DidFail(l.self, e)

	return e
}

// finish hands the completed drain to the client.
func (l *loader) finish(state transfer.State) {
	state.WithBodySource(nil)
	l.c.DidFinishLoading(l.self, state.Drain())
}
