package cookie

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %s: %v", raw, err)
	}
	return u
}

func names(cookies []*http.Cookie) []string {
	var out []string
	for _, c := range cookies {
		out = append(out, c.Name)
	}
	return out
}

func TestJar(t *testing.T) {
	j := NewJar()
	j.SetCookies(mustParse(t, "https://www.example.com/login"), []*http.Cookie{
		{Name: "session", Value: "abc", Path: "/"},
		{Name: "suffix", Value: "x", Domain: "com"},
	})

	testCases := map[string]struct {
		url string
		exp []string
	}{
		"same host":       {url: "https://www.example.com/home", exp: []string{"session"}},
		"other host":      {url: "https://other.com/", exp: nil},
		"public suffix":   {url: "https://another.com/", exp: nil},
		"sibling subhost": {url: "https://api.example.com/", exp: nil},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(tc.exp, names(j.Cookies(mustParse(t, tc.url)))); diff != "" {
				t.Errorf("unexpected cookies (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJar_RemoveAll(t *testing.T) {
	j := NewJar()
	u := mustParse(t, "http://example.com/")
	j.SetCookies(u, []*http.Cookie{{Name: "a", Value: "1"}})

	j.RemoveAll()

	if got := j.Cookies(u); len(got) != 0 {
		t.Errorf("expected no cookies after RemoveAll, got %v", names(got))
	}

	j.SetCookies(u, []*http.Cookie{{Name: "b", Value: "2"}})
	if diff := cmp.Diff([]string{"b"}, names(j.Cookies(u))); diff != "" {
		t.Errorf("jar unusable after RemoveAll (-want +got):\n%s", diff)
	}
}
