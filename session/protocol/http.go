package protocol

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/adamwoolhether/xfer/session/body"
	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/transfer"
)

// HTTPFactory serves http and https URLs.
type HTTPFactory struct {
	Driver *Driver
}

func (f HTTPFactory) CanInit(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

func (f HTTPFactory) New(t Transfer, cached *cache.CachedResponse, c Client) Protocol {
	p := &httpProtocol{cached: cached}
	p.loader = loader{d: f.Driver, t: t, c: c, self: p, work: p.load}
	return p
}

type httpProtocol struct {
	loader
	cached *cache.CachedResponse
}

func (p *httpProtocol) load(ctx context.Context) error {
	req := p.t.CurrentRequest()

	drain, err := p.t.NewDrain()
	if err != nil {
		return p.fail(ctx, transfer.New(req.URL, transfer.Ignore()), req.URL, err)
	}
	state := transfer.New(req.URL, drain)

	sendBody := true
	for redirects := 0; ; redirects++ {
		if redirects > p.d.maxRedirects {
			return p.fail(ctx, state, req.URL, ErrTooManyRedirects)
		}

		var reader io.ReadCloser
		if sendBody {
			ready := make(chan struct{}, 1)
			src, err := p.t.Body().NewSource(body.SourceOptions{
				MaxWriteSize: p.d.maxWriteSize,
				Exec:         p.d.exec,
				OnReadable: func() {
					select {
					case ready <- struct{}{}:
					default:
					}
				},
			})
			if err != nil {
				return p.fail(ctx, state, req.URL, err)
			}
			state.WithBodySource(nil)
			state = transfer.NewWithSource(req.URL, state.Drain(), src)
			if src != nil {
				reader = &sourceReader{ctx: ctx, src: src, ready: ready, sent: func(n int) {
					p.c.DidSendBodyData(p, int64(n))
				}}
			}
		} else {
			state.WithBodySource(nil)
			state = transfer.New(req.URL, state.Drain())
		}

		resp, release, err := p.roundTrip(ctx, p.outgoing(ctx, req, reader, redirects == 0))
		if err != nil {
			return p.fail(ctx, state, req.URL, err)
		}

		state, err = appendResponseHeader(state, resp)
		if err != nil {
			resp.Body.Close()
			release()
			return p.fail(ctx, state, req.URL, err)
		}
		r := state.Response()

		if r.StatusCode == http.StatusNotModified && p.cached != nil {
			discard(resp)
			release()
			return p.serveCached(ctx, state)
		}

		if next, keepBody, ok := redirectRequest(req, resp); ok {
			decision, err := p.awaitRedirect(ctx, r, next)
			if err != nil {
				resp.Body.Close()
				release()
				return p.fail(ctx, state, req.URL, err)
			}
			if decision != nil {
				discard(resp)
				release()
				req, sendBody = decision, keepBody && decision.Method == req.Method
				continue
			}
		}

		p.c.DidReceiveResponse(p, r)

		err = p.readBody(ctx, resp.Body, &state)
		resp.Body.Close()
		release()
		if err != nil {
			return p.fail(ctx, state, req.URL, err)
		}

		p.finish(state)
		return nil
	}
}

// outgoing builds the request actually sent for one attempt.
func (p *httpProtocol) outgoing(ctx context.Context, req *http.Request, rc io.ReadCloser, first bool) *http.Request {
	out := req.Clone(ctx)
	out.GetBody = nil

	if rc == nil {
		out.Body = nil
		out.ContentLength = 0
	} else {
		out.Body = rc
		if n, known := p.t.Body().Length(); known {
			out.ContentLength = n
		} else {
			out.ContentLength = -1
		}
	}

	if first && p.cached != nil && p.cached.Response != nil {
		h := p.cached.Response.Header
		if etag := h.Get("ETag"); etag != "" {
			out.Header.Set("If-None-Match", etag)
		}
		if lm := h.Get("Last-Modified"); lm != "" {
			out.Header.Set("If-Modified-Since", lm)
		}
	}

	return out
}

// roundTrip sends req, bounding the wait for response headers by the
// driver timeout. release must be called once the body has been read.
func (p *httpProtocol) roundTrip(ctx context.Context, req *http.Request) (*http.Response, func(), error) {
	if p.d.timeout <= 0 {
		resp, err := p.d.client.Do(req)
		return resp, func() {}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(p.d.timeout, cancel)

	resp, err := p.d.client.Do(req.WithContext(ctx))
	if !timer.Stop() && err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w after %s: %w", ErrTimedOut, p.d.timeout, err)
	}
	if err != nil {
		cancel()
		return nil, nil, err
	}

	return resp, cancel, nil
}

// awaitRedirect asks the client whether to follow next.
func (p *httpProtocol) awaitRedirect(ctx context.Context, r *transfer.Response, next *http.Request) (*http.Request, error) {
	decided := make(chan *http.Request, 1)
	p.c.WillPerformRedirection(p, r, next, func(req *http.Request) {
		select {
		case decided <- req:
		default:
		}
	})

	select {
	case req := <-decided:
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *httpProtocol) serveCached(ctx context.Context, state transfer.State) error {
	r := p.cached.Response
	p.c.DidReceiveResponse(p, r)

	if len(p.cached.Data) > 0 {
		next, err := state.AppendBodyData(p.cached.Data)
		if err != nil {
			return p.fail(ctx, state, r.URL, NewError(CodeCannotWriteToFile, r.URL, err))
		}
		state = next
		p.c.DidLoad(p, p.cached.Data)
	}

	p.finish(state)
	return nil
}

// appendResponseHeader feeds the status line and header fields of resp to
// state as raw CRLF terminated lines.
func appendResponseHeader(state transfer.State, resp *http.Response) (transfer.State, error) {
	var err error
	for _, line := range headerLines(resp) {
		state, err = state.AppendHTTPHeaderLine(line)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

func headerLines(resp *http.Response) [][]byte {
	lines := [][]byte{fmt.Appendf(nil, "%s %s\r\n", resp.Proto, statusText(resp))}

	for _, k := range slices.Sorted(maps.Keys(resp.Header)) {
		for _, v := range resp.Header[k] {
			lines = append(lines, fmt.Appendf(nil, "%s: %s\r\n", k, v))
		}
	}

	return append(lines, []byte("\r\n"))
}

func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// redirectRequest builds the follow-up request for a 3xx response with a
// Location. keepBody is false when the method changes to GET.
func redirectRequest(req *http.Request, resp *http.Response) (next *http.Request, keepBody, ok bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, false, false
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, false, false
	}
	u, err := req.URL.Parse(loc)
	if err != nil {
		return nil, false, false
	}

	method, keepBody := req.Method, true
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		if method != http.MethodGet && method != http.MethodHead {
			method, keepBody = http.MethodGet, false
		}
	case http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
		keepBody = false
	}

	next = req.Clone(req.Context())
	next.Method = method
	next.URL = u
	next.Host = ""
	if !keepBody {
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	}
	if u.Host != req.URL.Host {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	}

	return next, keepBody, true
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
