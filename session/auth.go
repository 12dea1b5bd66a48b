package session

import (
	"maps"
	"net/http"
	"slices"

	"github.com/adamwoolhether/xfer/session/credential"
	"github.com/adamwoolhether/xfer/session/protocol"
	"github.com/adamwoolhether/xfer/session/transfer"
)

// authHandler turns a credential into the request retried after a 401.
type authHandler func(req *http.Request, c credential.Credential) (*http.Request, error)

func authHandlerFor(method string) (authHandler, bool) {
	switch method {
	case credential.MethodHTTPBasic, credential.MethodDefault:
		return func(req *http.Request, c credential.Credential) (*http.Request, error) {
			return credential.SetBasicAuth(req, c), nil
		}, true
	case credential.MethodHTTPDigest:
		return func(*http.Request, credential.Credential) (*http.Request, error) {
			return nil, protocol.ErrUnsupportedAuth
		}, true
	default:
		return nil, false
	}
}

// authenticate answers a 401 for t. It runs on its own goroutine since it
// suspends and resumes the task.
func (s *Session) authenticate(t *Task, space credential.ProtectionSpace, resp *transfer.Response, data []byte) {
	s.proposeCredential(t, space, func(proposed *credential.Credential) {
		t.mu.Lock()
		failures := t.previousFailureCount
		t.previousFailureCount++
		t.mu.Unlock()

		ch := Challenge{
			ProtectionSpace:      space,
			ProposedCredential:   proposed,
			PreviousFailureCount: failures,
			FailureResponse:      resp,
		}
		t.logger.Info("authentication challenge", "host", space.Host, "realm", space.Realm, "method", space.AuthenticationMethod, "failures", failures)

		cd, ok := s.delegate.(ChallengeDelegate)
		if !ok {
			s.defaultChallengeHandling(t, ch, data)
			return
		}

		s.delegateQueue.Async(func() {
			cd.DidReceiveChallenge(s, t, ch, func(d AuthChallengeDisposition, c *credential.Credential) {
				go s.resolveChallenge(t, ch, d, c, data)
			})
		})
	})
}

func (s *Session) resolveChallenge(t *Task, ch Challenge, d AuthChallengeDisposition, c *credential.Credential, data []byte) {
	switch d {
	case UseCredential:
		if c == nil {
			s.completeUnauthorized(t, data)
			return
		}
		s.retryWithCredential(t, ch.ProtectionSpace, *c)
	case PerformDefaultHandling:
		s.defaultChallengeHandling(t, ch, data)
	default:
		t.Cancel()
	}
}

// defaultChallengeHandling retries with the proposed credential unless it
// already failed. With nothing to propose the 401 response is the result.
func (s *Session) defaultChallengeHandling(t *Task, ch Challenge, data []byte) {
	if ch.ProposedCredential == nil {
		s.completeUnauthorized(t, data)
		return
	}

	t.mu.Lock()
	last := t.lastCredential
	t.mu.Unlock()

	if last != nil && *last == *ch.ProposedCredential {
		t.Cancel()
		return
	}
	s.retryWithCredential(t, ch.ProtectionSpace, *ch.ProposedCredential)
}

// proposeCredential looks up a credential for space: the first stored one
// by user name, then the default one, then the user info of the request
// URL.
func (s *Session) proposeCredential(t *Task, space credential.ProtectionSpace, fn func(*credential.Credential)) {
	fromURL := func() {
		u := t.OriginalRequest().URL
		if u.User == nil {
			fn(nil)
			return
		}
		pw, _ := u.User.Password()
		fn(&credential.Credential{User: u.User.Username(), Password: pw, Persistence: credential.PersistenceNone})
	}

	if s.credentials == nil {
		fromURL()
		return
	}

	s.credentials.Credentials(space, func(creds map[string]credential.Credential) {
		if len(creds) > 0 {
			c := creds[slices.Sorted(maps.Keys(creds))[0]]
			fn(&c)
			return
		}
		s.credentials.DefaultCredential(space, func(c *credential.Credential) {
			if c != nil {
				fn(c)
				return
			}
			fromURL()
		})
	})
}

// retryWithCredential reloads t with c applied to its original request on
// a fresh protocol.
func (s *Session) retryWithCredential(t *Task, space credential.ProtectionSpace, c credential.Credential) {
	handler, ok := authHandlerFor(space.AuthenticationMethod)
	if !ok {
		handler, _ = authHandlerFor(credential.MethodDefault)
	}

	req, err := handler(t.OriginalRequest(), c)
	if err != nil {
		s.work.Async(func() {
			e := protocol.NewError(protocol.CodeUserAuthenticationRequired, t.CurrentRequest().URL, err)
			t.setError(e)
			s.fail(t, e)
		})
		return
	}

	t.Suspend()

	retry := false
	s.work.Sync(func() {
		if st := t.State(); st == StateCanceling || st == StateCompleted {
			return
		}
		t.setCurrentRequest(req)
		t.mu.Lock()
		t.lastCredential = &c
		t.lastSpace = space
		t.mu.Unlock()
		t.rebind(t.newProtocol(nil))
		retry = true
	})
	if retry {
		t.logger.Info("retrying with credential", "user", c.User)
	}

	t.Resume()
}

// completeUnauthorized ends t with the 401 it received.
func (s *Session) completeUnauthorized(t *Task, data []byte) {
	s.work.Async(func() {
		s.complete(t, data, "", nil)
	})
}

// usedCredential is the credential of the last authentication retry.
func (t *Task) usedCredential() (*credential.Credential, credential.ProtectionSpace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCredential, t.lastSpace
}
