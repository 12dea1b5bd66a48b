package session

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/credential"
	"github.com/adamwoolhether/xfer/session/download"
	"github.com/adamwoolhether/xfer/session/protocol"
	"github.com/adamwoolhether/xfer/session/transfer"
)

// protocolClient moves protocol events onto the session work queue,
// dropping those from protocols the task no longer uses.
type protocolClient struct {
	s *Session
	t *Task
}

func (c *protocolClient) DidReceiveResponse(p protocol.Protocol, resp *transfer.Response) {
	c.s.work.Async(func() {
		if !c.t.isBound(p) {
			return
		}
		c.t.setResponse(resp)
		c.t.logger.Debug("response received", "status", resp.StatusCode, "length", resp.ExpectedContentLength)

		if c.t.kind == KindDownload || c.s.registry.behaviorFor(c.t).kind != callDelegate {
			return
		}
		if dd, ok := c.s.delegate.(DataDelegate); ok {
			c.s.delegateQueue.Async(func() {
				dd.DidReceiveResponse(c.s, c.t, resp)
			})
		}
	})
}

func (c *protocolClient) DidLoad(p protocol.Protocol, data []byte) {
	c.s.work.Async(func() {
		if !c.t.isBound(p) {
			return
		}
		total, expected := c.t.addReceived(len(data))
		c.s.metrics.Received(len(data))

		if c.t.kind == KindDownload {
			c.t.plan.Progress(total, expected)
		}
		if c.s.registry.behaviorFor(c.t).kind != callDelegate {
			return
		}

		if c.t.kind == KindDownload {
			if dd, ok := c.s.delegate.(DownloadDelegate); ok {
				c.s.delegateQueue.Async(func() {
					dd.DidWriteData(c.s, c.t, int64(len(data)), total, expected)
				})
			}
			return
		}
		if dd, ok := c.s.delegate.(DataDelegate); ok {
			c.s.delegateQueue.Async(func() {
				dd.DidReceiveData(c.s, c.t, data)
			})
		}
	})
}

func (c *protocolClient) DidSendBodyData(p protocol.Protocol, n int64) {
	c.s.work.Async(func() {
		if !c.t.isBound(p) {
			return
		}
		total := c.t.addSent(n)
		c.s.metrics.Sent(n)

		if sd, ok := c.s.delegate.(SendDelegate); ok && c.s.registry.behaviorFor(c.t).kind == callDelegate {
			expected := c.t.CountOfBytesExpectedToSend()
			c.s.delegateQueue.Async(func() {
				sd.DidSendBodyData(c.s, c.t, n, total, expected)
			})
		}
	})
}

func (c *protocolClient) WillPerformRedirection(p protocol.Protocol, resp *transfer.Response, req *http.Request, decide func(*http.Request)) {
	c.s.work.Async(func() {
		if !c.t.isBound(p) {
			decide(nil)
			return
		}
		c.t.logger.Debug("redirect", "status", resp.StatusCode, "location", req.URL.Redacted())

		follow := func(next *http.Request) {
			if next != nil {
				c.t.setCurrentRequest(next)
			}
			decide(next)
		}

		rd, ok := c.s.delegate.(RedirectDelegate)
		if !ok || c.s.registry.behaviorFor(c.t).kind != callDelegate {
			follow(req)
			return
		}
		c.s.delegateQueue.Async(func() {
			rd.WillPerformRedirection(c.s, c.t, resp, req, follow)
		})
	})
}

func (c *protocolClient) DidFinishLoading(p protocol.Protocol, drain transfer.Drain) {
	c.s.work.Async(func() {
		if !c.t.isBound(p) {
			_ = drain.Close()
			return
		}
		c.s.finish(c.t, drain)
	})
}

func (c *protocolClient) DidFail(p protocol.Protocol, err error) {
	c.s.work.Async(func() {
		if !c.t.isBound(p) {
			return
		}
		c.t.setError(err)
		c.s.fail(c.t, err)
	})
}

// finish handles a successful load. It runs on the work queue.
func (s *Session) finish(t *Task, drain transfer.Drain) {
	if t.State() == StateCompleted {
		_ = drain.Close()
		return
	}

	resp := t.Response()
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		if space, ok := credential.ProtectionSpaceFromResponse(resp); ok {
			_ = drain.Close()
			download.Discard(t.takeTempPath(), t.logger)
			s.metrics.AuthChallenge()
			go s.authenticate(t, space, resp, bytes.Clone(drain.Bytes()))
			return
		}
	}

	if err := drain.Close(); err != nil {
		t.logger.Error("closing drain", "error", err)
	}

	if s.credentials != nil {
		if c, space := t.usedCredential(); c != nil {
			s.credentials.Set(*c, space)
		}
	}

	var path string
	if t.kind == KindDownload {
		expected := int64(-1)
		if resp != nil {
			expected = resp.ExpectedContentLength
		}

		tmp := t.takeTempPath()
		final, err := t.plan.Finalize(tmp, expected)
		if err != nil {
			download.Discard(tmp, t.logger)
			e := protocol.NewError(protocol.CodeDownloadDecodingFailed, t.CurrentRequest().URL, err)
			t.setError(e)
			s.fail(t, e)
			return
		}
		path = final
	}

	data := drain.Bytes()
	s.store(t, resp, data)
	s.complete(t, bytes.Clone(data), path, nil)
}

// fail completes t with err. It runs on the work queue.
func (s *Session) fail(t *Task, err error) {
	download.Discard(t.takeTempPath(), t.logger)
	s.complete(t, nil, "", err)
}

// store offers a finished data task's response to the cache.
func (s *Session) store(t *Task, resp *transfer.Response, data []byte) {
	if s.cache == nil || t.kind != KindData || resp == nil {
		return
	}
	req := t.CurrentRequest()
	if !cache.Cacheable(req, resp) {
		return
	}

	cr := &cache.CachedResponse{
		Response:      resp,
		Data:          bytes.Clone(data),
		StoragePolicy: cache.Allowed,
		StoredAt:      time.Now(),
	}

	cd, ok := s.delegate.(CacheDelegate)
	if !ok {
		s.cache.StoreCachedResponse(req, cr)
		return
	}
	s.delegateQueue.Async(func() {
		if c := cd.WillCacheResponse(s, t, cr); c != nil {
			s.cache.StoreCachedResponse(req, c)
		}
	})
}

// complete reports t's outcome and deregisters it. Only the first call for
// a task has any effect.
func (s *Session) complete(t *Task, data []byte, path string, err error) {
	if !t.markCompleted() {
		return
	}

	b := s.registry.behaviorFor(t)
	resp := t.Response()
	temporary := path != "" && t.plan.Destination() == ""

	switch b.kind {
	case callDelegate:
		if dd, ok := s.delegate.(DownloadDelegate); ok && err == nil && t.kind == KindDownload {
			s.delegateQueue.Async(func() {
				dd.DidFinishDownloading(s, t, path)
			})
		}
		td, ok := s.delegate.(TaskDelegate)
		s.delegateQueue.Async(func() {
			if ok {
				td.DidComplete(s, t, err)
			}
			if temporary {
				download.Discard(path, t.logger)
			}
		})
	case dataCompletion:
		s.delegateQueue.Async(func() {
			b.data(data, resp, err)
		})
	case downloadCompletion:
		s.delegateQueue.Async(func() {
			b.download(path, resp, err)
			if temporary {
				download.Discard(path, t.logger)
			}
		})
	}

	s.registry.remove(t)
	t.invalidateBinding()
	s.taskFinished(t, err)
}

// taskStarted opens the task's span on its first resume.
func (s *Session) taskStarted(t *Task) {
	req := t.OriginalRequest()
	_, span := s.tracer.Start(req.Context(), "xfer."+t.kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("xfer.task.id", t.id),
			attribute.String("xfer.session", s.instance.String()),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.Redacted()),
		),
	)

	t.mu.Lock()
	t.span = span
	t.started = time.Now()
	t.mu.Unlock()

	t.logger.Info("task started", "url", req.URL.Redacted())
}

func (s *Session) taskFinished(t *Task, err error) {
	t.mu.Lock()
	span, started := t.span, t.started
	t.mu.Unlock()

	outcome := "success"
	switch {
	case errors.Is(err, protocol.ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "failure"
	}
	s.metrics.TaskCompleted(t.kind.String(), outcome)

	if !started.IsZero() {
		s.metrics.ObserveDuration(t.OriginalRequest().URL.Scheme, time.Since(started))
	}

	if span != nil {
		if resp := t.Response(); resp != nil {
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}

	if err != nil {
		t.logger.Info("task completed", "outcome", outcome, "error", err)
		return
	}
	t.logger.Info("task completed", "outcome", outcome, "received", t.CountOfBytesReceived())
}
