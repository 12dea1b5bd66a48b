package cache

import (
	"net/http"
	"testing"
	"time"

	"github.com/adamwoolhether/xfer/session/transfer"
)

func newRequest(t *testing.T, method, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, rawURL, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	return req
}

func lookup(t *testing.T, s Storage, req *http.Request) *CachedResponse {
	t.Helper()
	got := make(chan *CachedResponse, 1)
	s.CachedResponse(req, func(c *CachedResponse) { got <- c })

	select {
	case c := <-got:
		return c
	case <-time.After(time.Second):
		t.Fatal("lookup never completed")
		return nil
	}
}

func TestMemory_StoreAndLookup(t *testing.T) {
	m := NewMemory(0)
	req := newRequest(t, http.MethodGet, "http://example.com/a")

	if c := lookup(t, m, req); c != nil {
		t.Fatalf("expected miss, got %+v", c)
	}

	want := &CachedResponse{Response: &transfer.Response{StatusCode: 200}, Data: []byte("abc")}
	m.StoreCachedResponse(req, want)

	got := lookup(t, m, newRequest(t, http.MethodGet, "http://example.com/a"))
	if got != want {
		t.Errorf("expected stored response, got %+v", got)
	}
	if got.StoredAt.IsZero() {
		t.Error("expected StoredAt to be stamped")
	}
}

func TestMemory_SkipsUncacheable(t *testing.T) {
	m := NewMemory(0)

	m.StoreCachedResponse(newRequest(t, http.MethodPost, "http://example.com/a"), &CachedResponse{})
	m.StoreCachedResponse(newRequest(t, http.MethodGet, "http://example.com/b"), &CachedResponse{StoragePolicy: NotAllowed})

	if m.Len() != 0 {
		t.Errorf("expected nothing stored, got %d entries", m.Len())
	}
	if c := lookup(t, m, newRequest(t, http.MethodPost, "http://example.com/a")); c != nil {
		t.Errorf("expected POST lookups to miss, got %+v", c)
	}
}

func TestMemory_Eviction(t *testing.T) {
	m := NewMemory(2)

	a := newRequest(t, http.MethodGet, "http://example.com/a")
	b := newRequest(t, http.MethodGet, "http://example.com/b")
	c := newRequest(t, http.MethodGet, "http://example.com/c")

	m.StoreCachedResponse(a, &CachedResponse{Data: []byte("a")})
	m.StoreCachedResponse(b, &CachedResponse{Data: []byte("b")})
	lookup(t, m, a) // a is now most recent
	m.StoreCachedResponse(c, &CachedResponse{Data: []byte("c")})

	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	if lookup(t, m, b) != nil {
		t.Error("expected least recently used entry to be evicted")
	}
	if lookup(t, m, a) == nil || lookup(t, m, c) == nil {
		t.Error("expected recent entries to survive")
	}

	m.RemoveAll()
	if m.Len() != 0 {
		t.Errorf("expected empty cache after RemoveAll, got %d", m.Len())
	}
}

func TestCacheable(t *testing.T) {
	ok := &transfer.Response{StatusCode: 200, Header: http.Header{}}

	testCases := []struct {
		name   string
		method string
		reqCC  string
		resp   *transfer.Response
		exp    bool
	}{
		{name: "plain GET", method: http.MethodGet, resp: ok, exp: true},
		{name: "POST", method: http.MethodPost, resp: ok},
		{name: "not found", method: http.MethodGet, resp: &transfer.Response{StatusCode: 404, Header: http.Header{}}},
		{name: "request no-store", method: http.MethodGet, reqCC: "max-age=0, no-store", resp: ok},
		{name: "response no-store", method: http.MethodGet, resp: &transfer.Response{StatusCode: 200, Header: http.Header{"Cache-Control": {"No-Store"}}}},
		{name: "nil response", method: http.MethodGet},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := newRequest(t, tc.method, "http://example.com/")
			if tc.reqCC != "" {
				req.Header.Set("Cache-Control", tc.reqCC)
			}
			if got := Cacheable(req, tc.resp); got != tc.exp {
				t.Errorf("expected %t, got %t", tc.exp, got)
			}
		})
	}
}
