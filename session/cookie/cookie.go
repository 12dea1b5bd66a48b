// Package cookie stores the cookies a session sends and receives.
package cookie

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Jar is an http.CookieJar that honors the public suffix list and can be
// emptied.
type Jar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func NewJar() *Jar {
	return &Jar{jar: newCookieJar()}
}

func newCookieJar() *cookiejar.Jar {
	// cookiejar.New never fails.
	j, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return j
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// RemoveAll forgets every stored cookie.
func (j *Jar) RemoveAll() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar = newCookieJar()
}
