// Package credential models authentication challenges and stores the
// credentials used to answer them.
package credential

import (
	"maps"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/adamwoolhether/xfer/session/transfer"
)

// Authentication methods a protection space can require.
const (
	MethodHTTPBasic  = "HTTPBasic"
	MethodHTTPDigest = "HTTPDigest"
	MethodDefault    = "Default"
)

// Persistence controls how long a stored credential is kept.
type Persistence int

const (
	PersistenceNone Persistence = iota
	PersistenceForSession
	PersistencePermanent
)

// Credential is a user name and password pair.
type Credential struct {
	User        string
	Password    string
	Persistence Persistence
}

// ProtectionSpace identifies the server realm a credential applies to.
type ProtectionSpace struct {
	Host                 string
	Port                 int
	Protocol             string
	Realm                string
	AuthenticationMethod string
}

// ProtectionSpaceFromResponse derives the protection space of a 401
// response from its URL and WWW-Authenticate challenge. ok is false when
// the response carries no challenge.
func ProtectionSpaceFromResponse(resp *transfer.Response) (ProtectionSpace, bool) {
	if resp == nil || resp.URL == nil {
		return ProtectionSpace{}, false
	}

	challenge := resp.Header.Get("WWW-Authenticate")
	if challenge == "" {
		return ProtectionSpace{}, false
	}

	scheme, params, _ := strings.Cut(challenge, " ")
	method := MethodDefault
	switch strings.ToLower(scheme) {
	case "basic":
		method = MethodHTTPBasic
	case "digest":
		method = MethodHTTPDigest
	}

	return ProtectionSpace{
		Host:                 resp.URL.Hostname(),
		Port:                 port(resp.URL.Scheme, resp.URL.Port()),
		Protocol:             resp.URL.Scheme,
		Realm:                realm(params),
		AuthenticationMethod: method,
	}, true
}

func port(scheme, p string) int {
	if n, err := strconv.Atoi(p); err == nil {
		return n
	}
	if n, err := net.LookupPort("tcp", scheme); err == nil {
		return n
	}
	return 0
}

func realm(params string) string {
	for p := range strings.SplitSeq(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(k, "realm") {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}

// Storage holds credentials per protection space. Lookups complete
// asynchronously.
type Storage interface {
	// Credentials calls fn with the credentials for space keyed by user.
	Credentials(space ProtectionSpace, fn func(map[string]Credential))
	// DefaultCredential calls fn with the default credential for space, or nil.
	DefaultCredential(space ProtectionSpace, fn func(*Credential))
	Set(c Credential, space ProtectionSpace)
	SetDefault(c Credential, space ProtectionSpace)
	Remove(c Credential, space ProtectionSpace)
	RemoveAll()
}

// Memory is an in-memory Storage. Credentials with PersistenceNone are not
// stored.
type Memory struct {
	mu       sync.Mutex
	creds    map[ProtectionSpace]map[string]Credential
	defaults map[ProtectionSpace]Credential
}

func NewMemory() *Memory {
	return &Memory{
		creds:    make(map[ProtectionSpace]map[string]Credential),
		defaults: make(map[ProtectionSpace]Credential),
	}
}

func (m *Memory) Credentials(space ProtectionSpace, fn func(map[string]Credential)) {
	m.mu.Lock()
	found := maps.Clone(m.creds[space])
	m.mu.Unlock()

	go fn(found)
}

func (m *Memory) DefaultCredential(space ProtectionSpace, fn func(*Credential)) {
	m.mu.Lock()
	c, ok := m.defaults[space]
	m.mu.Unlock()

	if !ok {
		go fn(nil)
		return
	}
	go fn(&c)
}

func (m *Memory) Set(c Credential, space ProtectionSpace) {
	if c.Persistence == PersistenceNone {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.creds[space] == nil {
		m.creds[space] = make(map[string]Credential)
	}
	m.creds[space][c.User] = c
}

func (m *Memory) SetDefault(c Credential, space ProtectionSpace) {
	m.Set(c, space)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults[space] = c
}

func (m *Memory) Remove(c Credential, space ProtectionSpace) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.creds[space], c.User)
	if d, ok := m.defaults[space]; ok && d.User == c.User {
		delete(m.defaults, space)
	}
}

func (m *Memory) RemoveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.creds)
	clear(m.defaults)
}

// SetBasicAuth returns a copy of req carrying c as HTTP Basic credentials.
func SetBasicAuth(req *http.Request, c Credential) *http.Request {
	cpy := req.Clone(req.Context())
	cpy.SetBasicAuth(c.User, c.Password)
	return cpy
}
