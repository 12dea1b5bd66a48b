package session

import (
	"net/http"

	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/credential"
	"github.com/adamwoolhether/xfer/session/transfer"
)

// A session delegate is any value passed to WithDelegate. The session
// type-asserts it against the interfaces below and calls the methods it
// implements on the delegate queue.

// SessionDelegate learns when the session stops accepting work.
type SessionDelegate interface {
	DidBecomeInvalid(s *Session, err error)
}

// TaskDelegate receives the completion of tasks that were created without
// a completion func.
type TaskDelegate interface {
	DidComplete(s *Session, t *Task, err error)
}

// AuthChallengeDisposition is a delegate's answer to a Challenge.
type AuthChallengeDisposition int

const (
	// UseCredential retries with the credential passed alongside.
	UseCredential AuthChallengeDisposition = iota
	// PerformDefaultHandling retries with the proposed credential if any.
	PerformDefaultHandling
	// CancelAuthenticationChallenge cancels the task.
	CancelAuthenticationChallenge
	// RejectProtectionSpace gives up on the space, which cancels the task.
	RejectProtectionSpace
)

// Challenge describes a 401 response the task may answer with a credential.
type Challenge struct {
	ProtectionSpace      credential.ProtectionSpace
	ProposedCredential   *credential.Credential
	PreviousFailureCount int
	FailureResponse      *transfer.Response
}

// ChallengeDelegate decides how a task answers an authentication challenge.
// decide must be called exactly once.
type ChallengeDelegate interface {
	DidReceiveChallenge(s *Session, t *Task, c Challenge, decide func(AuthChallengeDisposition, *credential.Credential))
}

// RedirectDelegate decides whether a redirect is followed. decide receives
// req, a replacement request, or nil to stop at resp.
type RedirectDelegate interface {
	WillPerformRedirection(s *Session, t *Task, resp *transfer.Response, req *http.Request, decide func(*http.Request))
}

// SendDelegate reports upload progress.
type SendDelegate interface {
	DidSendBodyData(s *Session, t *Task, sent, totalSent, totalExpected int64)
}

// DataDelegate receives the response and body of data and upload tasks.
type DataDelegate interface {
	DidReceiveResponse(s *Session, t *Task, resp *transfer.Response)
	DidReceiveData(s *Session, t *Task, data []byte)
}

// CacheDelegate may replace or veto a response about to be cached by
// returning a different value or nil.
type CacheDelegate interface {
	WillCacheResponse(s *Session, t *Task, c *cache.CachedResponse) *cache.CachedResponse
}

// DownloadDelegate receives download progress and the final file location.
// The file at path is only guaranteed to exist for the duration of the call.
type DownloadDelegate interface {
	DidWriteData(s *Session, t *Task, written, totalWritten, totalExpected int64)
	DidFinishDownloading(s *Session, t *Task, path string)
}
