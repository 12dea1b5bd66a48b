package protocol

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/xfer/session/body"
	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/transfer"
)

type fakeTransfer struct {
	req       *http.Request
	body      body.Body
	suspended atomic.Bool
}

func (f *fakeTransfer) ID() int                           { return 1 }
func (f *fakeTransfer) CurrentRequest() *http.Request     { return f.req }
func (f *fakeTransfer) Body() body.Body                   { return f.body }
func (f *fakeTransfer) IsSuspended() bool                 { return f.suspended.Load() }
func (f *fakeTransfer) NewDrain() (transfer.Drain, error) { return transfer.InMemory(), nil }

type recordingClient struct {
	mu        sync.Mutex
	responses []*transfer.Response
	data      []byte
	sent      int64
	redirect  func(*http.Request) *http.Request

	finished chan transfer.Drain
	failed   chan error
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		finished: make(chan transfer.Drain, 1),
		failed:   make(chan error, 1),
	}
}

func (c *recordingClient) DidReceiveResponse(_ Protocol, resp *transfer.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, resp)
}

func (c *recordingClient) DidLoad(_ Protocol, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, data...)
}

func (c *recordingClient) DidSendBodyData(_ Protocol, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent += n
}

func (c *recordingClient) WillPerformRedirection(_ Protocol, _ *transfer.Response, req *http.Request, decide func(*http.Request)) {
	if c.redirect != nil {
		req = c.redirect(req)
	}
	go decide(req)
}

func (c *recordingClient) DidFinishLoading(_ Protocol, d transfer.Drain) { c.finished <- d }
func (c *recordingClient) DidFail(_ Protocol, err error)                 { c.failed <- err }

func (c *recordingClient) wait(t *testing.T) (transfer.Drain, error) {
	t.Helper()
	select {
	case d := <-c.finished:
		return d, nil
	case err := <-c.failed:
		return transfer.Drain{}, err
	case <-time.After(5 * time.Second):
		t.Fatal("protocol never finished")
		return transfer.Drain{}, nil
	}
}

func newRequest(t *testing.T, method, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, rawURL, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	return req
}

func TestHTTPFactory_CanInit(t *testing.T) {
	f := HTTPFactory{}
	for raw, want := range map[string]bool{
		"http://example.com":  true,
		"HTTPS://example.com": true,
		"ftp://example.com":   false,
		"file:///tmp/x":       false,
	} {
		if got := f.CanInit(newRequest(t, http.MethodGet, raw)); got != want {
			t.Errorf("%s: expected %t, got %t", raw, want, got)
		}
	}
	if !(FTPFactory{}).CanInit(newRequest(t, http.MethodGet, "ftp://example.com/a")) {
		t.Error("expected ftp factory to accept ftp URLs")
	}
}

func TestHTTPProtocol_Get(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "xfer-test/1.0" {
			t.Errorf("expected User-Agent %q, got %q", "xfer-test/1.0", ua)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "hello world")
	}))
	defer ts.Close()

	d := NewDriver(DriverConfig{UserAgent: "xfer-test/1.0", MaxWriteSize: 4})
	c := newRecordingClient()
	p := HTTPFactory{Driver: d}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, ts.URL+"/greeting.txt")}, nil, c)

	p.StartLoading()
	drain, err := c.wait(t)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if got := string(drain.Bytes()); got != "hello world" {
		t.Errorf("expected drained body %q, got %q", "hello world", got)
	}
	if got := string(c.data); got != "hello world" {
		t.Errorf("expected loaded data %q, got %q", "hello world", got)
	}
	if len(c.responses) != 1 {
		t.Fatalf("expected one response, got %d", len(c.responses))
	}
	resp := c.responses[0]
	if resp.StatusCode != http.StatusOK || resp.MIMEType != "text/plain" || resp.TextEncoding != "utf-8" {
		t.Errorf("unexpected response metadata: %+v", resp)
	}
	if resp.ExpectedContentLength != 11 {
		t.Errorf("expected content length 11, got %d", resp.ExpectedContentLength)
	}
}

func TestHTTPProtocol_Upload(t *testing.T) {
	var got []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	payload := strings.Repeat("upload!", 100)
	c := newRecordingClient()
	tr := &fakeTransfer{req: newRequest(t, http.MethodPost, ts.URL), body: body.Data([]byte(payload))}
	p := HTTPFactory{Driver: NewDriver(DriverConfig{})}.New(tr, nil, c)

	p.StartLoading()
	if _, err := c.wait(t); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if string(got) != payload {
		t.Errorf("server received %d bytes, want %d", len(got), len(payload))
	}
	if c.sent != int64(len(payload)) {
		t.Errorf("expected %d bytes reported sent, got %d", len(payload), c.sent)
	}
	if c.responses[0].StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", c.responses[0].StatusCode)
	}
}

func TestHTTPProtocol_Redirect(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "moved")
	})
	ts := httptest.NewServer(&mux)
	defer ts.Close()

	t.Run("followed", func(t *testing.T) {
		c := newRecordingClient()
		p := HTTPFactory{Driver: NewDriver(DriverConfig{})}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, ts.URL+"/old")}, nil, c)

		p.StartLoading()
		drain, err := c.wait(t)
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if string(drain.Bytes()) != "moved" {
			t.Errorf("expected redirected body, got %q", drain.Bytes())
		}
		if c.responses[0].URL.Path != "/new" {
			t.Errorf("expected response for /new, got %s", c.responses[0].URL)
		}
	})

	t.Run("refused", func(t *testing.T) {
		c := newRecordingClient()
		c.redirect = func(*http.Request) *http.Request { return nil }
		p := HTTPFactory{Driver: NewDriver(DriverConfig{})}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, ts.URL+"/old")}, nil, c)

		p.StartLoading()
		if _, err := c.wait(t); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if c.responses[0].StatusCode != http.StatusFound {
			t.Errorf("expected the 302 to be delivered, got %d", c.responses[0].StatusCode)
		}
	})
}

func TestHTTPProtocol_TooManyRedirects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer ts.Close()

	c := newRecordingClient()
	p := HTTPFactory{Driver: NewDriver(DriverConfig{MaxRedirects: 3})}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, ts.URL+"/loop")}, nil, c)

	p.StartLoading()
	_, err := c.wait(t)
	if Classify(err) != CodeHTTPTooManyRedirects {
		t.Errorf("expected %v, got %v", CodeHTTPTooManyRedirects, err)
	}
}

func TestHTTPProtocol_Revalidate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		io.WriteString(w, "fresh")
	}))
	defer ts.Close()

	cachedResp := &transfer.Response{StatusCode: http.StatusOK, Header: http.Header{"Etag": {`"v1"`}}}
	cached := &cache.CachedResponse{Response: cachedResp, Data: []byte("cached")}

	c := newRecordingClient()
	p := HTTPFactory{Driver: NewDriver(DriverConfig{})}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, ts.URL)}, cached, c)

	p.StartLoading()
	drain, err := c.wait(t)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if string(drain.Bytes()) != "cached" {
		t.Errorf("expected cached body, got %q", drain.Bytes())
	}
	if c.responses[0] != cachedResp {
		t.Error("expected cached response to be delivered")
	}
}

func TestHTTPProtocol_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	c := newRecordingClient()
	p := HTTPFactory{Driver: NewDriver(DriverConfig{Timeout: 50 * time.Millisecond})}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, ts.URL)}, nil, c)

	p.StartLoading()
	_, err := c.wait(t)
	if !errors.Is(err, ErrTimedOut) || Classify(err) != CodeTimedOut {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestHTTPProtocol_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	c := newRecordingClient()
	p := HTTPFactory{Driver: NewDriver(DriverConfig{})}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, addr)}, nil, c)

	p.StartLoading()
	_, err := c.wait(t)

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if e.Code != CodeCannotConnectToHost {
		t.Errorf("expected %v, got %v", CodeCannotConnectToHost, e.Code)
	}
}

func TestHTTPProtocol_PauseResume(t *testing.T) {
	firstSent := make(chan struct{})
	proceed := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "first")
		w.(http.Flusher).Flush()
		close(firstSent)
		<-proceed
		io.WriteString(w, "second")
	}))
	defer ts.Close()

	tr := &fakeTransfer{req: newRequest(t, http.MethodGet, ts.URL)}
	c := newRecordingClient()
	p := HTTPFactory{Driver: NewDriver(DriverConfig{})}.New(tr, nil, c)

	p.StartLoading()
	<-firstSent

	tr.suspended.Store(true)
	p.StopLoading()
	close(proceed)

	select {
	case <-c.finished:
		t.Fatal("paused transfer should not finish")
	case err := <-c.failed:
		t.Fatalf("paused transfer should not fail: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	tr.suspended.Store(false)
	p.StartLoading()

	drain, err := c.wait(t)
	if err != nil {
		t.Fatalf("expected success after resume, got %v", err)
	}
	if string(drain.Bytes()) != "firstsecond" {
		t.Errorf("expected full body, got %q", drain.Bytes())
	}
}

func TestHTTPProtocol_StopCancels(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
		<-block
	}))
	defer ts.Close()
	defer close(block)

	d := NewDriver(DriverConfig{})
	c := newRecordingClient()
	p := HTTPFactory{Driver: d}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, ts.URL)}, nil, c)

	p.StartLoading()
	time.Sleep(50 * time.Millisecond)
	p.StopLoading()

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled transfer never returned")
	}

	select {
	case <-c.finished:
		t.Error("cancelled transfer should not finish")
	case err := <-c.failed:
		t.Errorf("cancelled transfer should not report failure, got %v", err)
	default:
	}
}

func TestHeaderLines(t *testing.T) {
	resp := &http.Response{
		Proto:  "HTTP/1.1",
		Status: "200 OK",
		Header: http.Header{"B": {"2"}, "A": {"1", "3"}},
	}

	var got []string
	for _, l := range headerLines(resp) {
		got = append(got, string(l))
	}

	want := []string{"HTTP/1.1 200 OK\r\n", "A: 1\r\n", "A: 3\r\n", "B: 2\r\n", "\r\n"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("header lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRedirectRequest(t *testing.T) {
	testCases := []struct {
		name        string
		method      string
		status      int
		location    string
		expOK       bool
		expMethod   string
		expKeepBody bool
		expAuth     bool
	}{
		{name: "302 GET", method: http.MethodGet, status: 302, location: "/b", expOK: true, expMethod: http.MethodGet, expKeepBody: true, expAuth: true},
		{name: "302 POST becomes GET", method: http.MethodPost, status: 302, location: "/b", expOK: true, expMethod: http.MethodGet},
		{name: "303 POST", method: http.MethodPost, status: 303, location: "/b", expOK: true, expMethod: http.MethodGet},
		{name: "307 keeps POST", method: http.MethodPost, status: 307, location: "/b", expOK: true, expMethod: http.MethodPost, expKeepBody: true, expAuth: true},
		{name: "cross host drops auth", method: http.MethodGet, status: 301, location: "http://other.example/b", expOK: true, expMethod: http.MethodGet, expKeepBody: true},
		{name: "no location", method: http.MethodGet, status: 302},
		{name: "not a redirect", method: http.MethodGet, status: 200, location: "/b"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := newRequest(t, tc.method, "http://example.com/a")
			req.Header.Set("Authorization", "Basic xyz")
			resp := &http.Response{StatusCode: tc.status, Header: http.Header{}}
			if tc.location != "" {
				resp.Header.Set("Location", tc.location)
			}

			next, keepBody, ok := redirectRequest(req, resp)
			if ok != tc.expOK {
				t.Fatalf("expected ok=%t, got %t", tc.expOK, ok)
			}
			if !ok {
				return
			}
			if next.Method != tc.expMethod || keepBody != tc.expKeepBody {
				t.Errorf("expected %s keepBody=%t, got %s keepBody=%t", tc.expMethod, tc.expKeepBody, next.Method, keepBody)
			}
			if got := next.Header.Get("Authorization") != ""; got != tc.expAuth {
				t.Errorf("expected Authorization kept=%t, got %t", tc.expAuth, got)
			}
		})
	}
}

func TestHTTPProtocol_RedirectStreamBody(t *testing.T) {
	const payload = "streamed upload"

	mux := http.NewServeMux()
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Redirect(w, r, "/echo", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, r.Body)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	t.Run("not rewindable", func(t *testing.T) {
		c := newRecordingClient()
		tr := &fakeTransfer{req: newRequest(t, http.MethodPut, ts.URL+"/moved"), body: body.Stream(strings.NewReader(payload), nil)}
		p := HTTPFactory{Driver: NewDriver(DriverConfig{})}.New(tr, nil, c)

		p.StartLoading()
		_, err := c.wait(t)
		if !errors.Is(err, body.ErrNotRewindable) || Classify(err) != CodeRequestBodyStreamExhausted {
			t.Errorf("expected %v, got %v", CodeRequestBodyStreamExhausted, err)
		}
	})

	t.Run("rewindable", func(t *testing.T) {
		rewind := func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(payload)), nil
		}
		c := newRecordingClient()
		tr := &fakeTransfer{req: newRequest(t, http.MethodPut, ts.URL+"/moved"), body: body.Stream(strings.NewReader(payload), rewind)}
		p := HTTPFactory{Driver: NewDriver(DriverConfig{})}.New(tr, nil, c)

		p.StartLoading()
		drain, err := c.wait(t)
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if got := string(drain.Bytes()); got != payload {
			t.Errorf("expected re-sent body %q, got %q", payload, got)
		}
	})
}
