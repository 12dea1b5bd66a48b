package session

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/xfer/session/body"
	"github.com/adamwoolhether/xfer/session/credential"
	"github.com/adamwoolhether/xfer/session/download"
	"github.com/adamwoolhether/xfer/session/protocol"
	"github.com/adamwoolhether/xfer/session/transfer"
)

// Kind is the flavour of a task.
type Kind int

const (
	KindData Kind = iota
	KindUpload
	KindDownload
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindUpload:
		return "upload"
	case KindDownload:
		return "download"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// State is where a task is in its lifecycle.
type State int

const (
	StateRunning State = iota
	StateSuspended
	StateCanceling
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCanceling:
		return "canceling"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Task priorities. Priority is advisory.
const (
	PriorityLow     float32 = 0.25
	PriorityDefault float32 = 0.5
	PriorityHigh    float32 = 0.75
)

// Task is one transfer owned by a Session. Tasks are created suspended;
// call Resume to start them.
type Task struct {
	s       *Session
	id      int
	kind    Kind
	body    body.Body
	plan    *download.Plan
	collect bool
	invalid bool
	logger  *slog.Logger

	mu                   sync.Mutex
	originalRequest      *http.Request
	currentRequest       *http.Request
	response             *transfer.Response
	err                  error
	state                State
	suspendCount         int
	resumed              bool
	sent                 int64
	received             int64
	expectedToSend       int64
	expectedToReceive    int64
	priority             float32
	description          string
	tempPath             string
	previousFailureCount int
	lastCredential       *credential.Credential
	lastSpace            credential.ProtectionSpace
	span                 trace.Span
	started              time.Time

	protoMu sync.Mutex
	binding binding
}

func newTask(s *Session, kind Kind, id int, req *http.Request, b body.Body) *Task {
	t := &Task{
		s:                 s,
		id:                id,
		kind:              kind,
		body:              b,
		logger:            s.logger.With("task", id),
		originalRequest:   req,
		currentRequest:    req,
		state:             StateSuspended,
		suspendCount:      1,
		expectedToReceive: -1,
		priority:          PriorityDefault,
	}

	t.expectedToSend = 0
	if n, known := b.Length(); known {
		t.expectedToSend = n
	} else if b.Kind() != body.KindNone {
		t.expectedToSend = -1
	}

	return t
}

func (t *Task) ID() int    { return t.id }
func (t *Task) Kind() Kind { return t.kind }

// Body describes the request body uploaded by the task.
func (t *Task) Body() body.Body { return t.body }

func (t *Task) OriginalRequest() *http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.originalRequest
}

// CurrentRequest is the request being loaded, which differs from the
// original after a redirect or an authentication retry.
func (t *Task) CurrentRequest() *http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentRequest
}

func (t *Task) setCurrentRequest(req *http.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentRequest = req
}

func (t *Task) Response() *transfer.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

func (t *Task) setResponse(resp *transfer.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.response = resp
	t.expectedToReceive = resp.ExpectedContentLength
}

// Error is the task's terminal error, if any.
func (t *Task) Error() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) setError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsSuspended reports whether the task is held by Suspend.
func (t *Task) IsSuspended() bool {
	return t.State() == StateSuspended
}

func (t *Task) CountOfBytesSent() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

func (t *Task) CountOfBytesReceived() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

// CountOfBytesExpectedToSend is -1 when the body length is unknown.
func (t *Task) CountOfBytesExpectedToSend() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expectedToSend
}

// CountOfBytesExpectedToReceive is -1 until a response with a known
// length arrives.
func (t *Task) CountOfBytesExpectedToReceive() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expectedToReceive
}

func (t *Task) Priority() float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

func (t *Task) SetPriority(p float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priority = p
}

func (t *Task) Description() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.description
}

func (t *Task) SetDescription(d string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.description = d
}

// addSent records n uploaded bytes and returns the running total.
func (t *Task) addSent(n int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent += n
	return t.sent
}

// addReceived records n downloaded bytes and returns the running total
// along with the expected length.
func (t *Task) addReceived(n int) (total, expected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received += int64(n)
	return t.received, t.expectedToReceive
}

// updateState derives running or suspended from the suspend count. Must
// hold mu.
func (t *Task) updateState() {
	if t.state == StateCanceling || t.state == StateCompleted {
		return
	}
	if t.suspendCount == 0 {
		t.state = StateRunning
	} else {
		t.state = StateSuspended
	}
}

// markCompleted moves the task to completed and reports whether this call
// did so.
func (t *Task) markCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateCompleted {
		return false
	}
	t.state = StateCompleted
	return true
}

// Resume starts or continues the task. A task starts loading when its
// suspend count drops to zero.
func (t *Task) Resume() {
	t.s.work.Sync(func() {
		t.mu.Lock()
		if t.state == StateCanceling || t.state == StateCompleted {
			t.mu.Unlock()
			return
		}

		start := t.suspendCount == 1
		if t.suspendCount > 0 {
			t.suspendCount--
		}
		t.updateState()

		first := start && !t.resumed
		if start {
			t.resumed = true
		}
		t.mu.Unlock()

		if !start {
			return
		}
		if first {
			t.s.taskStarted(t)
		}

		t.withProtocol(func(p protocol.Protocol) {
			t.s.work.Async(func() {
				if p != nil {
					p.StartLoading()
					return
				}
				if t.Error() != nil {
					return
				}
				err := protocol.NewError(protocol.CodeUnsupportedURL, t.CurrentRequest().URL, protocol.ErrUnsupportedURL)
				t.setError(err)
				t.s.fail(t, err)
			})
		})
	})
}

// Suspend holds the task. Calls nest; each needs a matching Resume. The
// transfer pauses without losing what it has received.
func (t *Task) Suspend() {
	t.s.work.Sync(func() {
		t.mu.Lock()
		if t.state == StateCanceling || t.state == StateCompleted {
			t.mu.Unlock()
			return
		}

		if t.suspendCount == math.MaxInt {
			t.mu.Unlock()
			panic(fmt.Sprintf("session: suspend count overflow on task %d", t.id))
		}
		t.suspendCount++
		t.updateState()
		stop := t.suspendCount == 1
		t.mu.Unlock()

		if !stop {
			return
		}

		t.withProtocol(func(p protocol.Protocol) {
			t.s.work.Async(func() {
				if p != nil {
					p.StopLoading()
				}
			})
		})
	})
}

// Cancel stops the task. It completes with a CodeCancelled error. Calls
// after the first have no effect.
func (t *Task) Cancel() {
	t.s.work.Sync(func() {
		t.mu.Lock()
		if t.state == StateCanceling || t.state == StateCompleted {
			t.mu.Unlock()
			return
		}
		t.state = StateCanceling
		t.mu.Unlock()

		t.withProtocol(func(p protocol.Protocol) {
			t.s.work.Async(func() {
				err := protocol.NewError(protocol.CodeCancelled, t.CurrentRequest().URL, protocol.ErrCancelled)
				t.setError(err)
				if p != nil {
					p.StopLoading()
				}
				t.s.fail(t, err)
			})
		})
	})
}

// CancelByProducingResumeData cancels a download. Resume data is not
// supported, so fn always receives nil.
func (t *Task) CancelByProducingResumeData(fn func(resumeData []byte)) {
	t.Cancel()
	t.s.delegateQueue.Async(func() {
		fn(nil)
	})
}

// NewDrain picks where one loading attempt writes the response body.
func (t *Task) NewDrain() (transfer.Drain, error) {
	switch {
	case t.kind == KindDownload:
		f, err := t.plan.CreateTemp(t.s.cfg.tempDir())
		if err != nil {
			return transfer.Drain{}, protocol.NewError(protocol.CodeCannotCreateFile, t.CurrentRequest().URL, err)
		}

		t.mu.Lock()
		old := t.tempPath
		t.tempPath = f.Name()
		t.mu.Unlock()
		download.Discard(old, t.logger)

		return transfer.ToFile(f.Name(), f), nil
	case t.collect:
		return transfer.InMemory(), nil
	default:
		return transfer.Ignore(), nil
	}
}

// takeTempPath hands over the current download file, if any.
func (t *Task) takeTempPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.tempPath
	t.tempPath = ""
	return p
}
