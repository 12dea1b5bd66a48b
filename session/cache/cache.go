// Package cache stores responses so data tasks can be answered or
// revalidated without a full transfer.
package cache

import (
	"container/list"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/adamwoolhether/xfer/session/transfer"
)

// StoragePolicy limits where a cached response may be kept.
type StoragePolicy int

const (
	Allowed StoragePolicy = iota
	AllowedInMemoryOnly
	NotAllowed
)

// CachedResponse is a stored response together with its body.
type CachedResponse struct {
	Response      *transfer.Response
	Data          []byte
	StoragePolicy StoragePolicy
	StoredAt      time.Time
}

// Storage looks up and stores responses. Lookups complete asynchronously.
type Storage interface {
	// CachedResponse calls fn with the stored response for req, or nil.
	CachedResponse(req *http.Request, fn func(*CachedResponse))
	StoreCachedResponse(req *http.Request, c *CachedResponse)
	RemoveAll()
}

// Key identifies the cache entry for req.
func Key(req *http.Request) uint64 {
	return xxhash.Sum64String(req.Method + " " + req.URL.String())
}

// Cacheable reports whether resp to req may be stored.
func Cacheable(req *http.Request, resp *transfer.Response) bool {
	if req.Method != http.MethodGet || resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	return !noStore(req.Header) && !noStore(resp.Header)
}

func noStore(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		for d := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(d), "no-store") {
				return true
			}
		}
	}
	return false
}

type entry struct {
	key uint64
	c   *CachedResponse
}

// Memory is an in-memory LRU Storage.
type Memory struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[uint64]*list.Element
}

// NewMemory returns a Memory holding at most capacity responses. A
// capacity <= 0 means unbounded.
func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint64]*list.Element),
	}
}

func (m *Memory) CachedResponse(req *http.Request, fn func(*CachedResponse)) {
	if req.Method != http.MethodGet {
		go fn(nil)
		return
	}

	key := Key(req)
	go func() {
		fn(m.lookup(key))
	}()
}

func (m *Memory) lookup(key uint64) *CachedResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil
	}
	m.order.MoveToFront(el)
	return el.Value.(*entry).c
}

func (m *Memory) StoreCachedResponse(req *http.Request, c *CachedResponse) {
	if c == nil || c.StoragePolicy == NotAllowed || req.Method != http.MethodGet {
		return
	}
	if c.StoredAt.IsZero() {
		c.StoredAt = time.Now()
	}

	key := Key(req)

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		el.Value.(*entry).c = c
		m.order.MoveToFront(el)
		return
	}

	m.entries[key] = m.order.PushFront(&entry{key: key, c: c})

	for m.capacity > 0 && m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*entry).key)
	}
}

func (m *Memory) RemoveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order.Init()
	clear(m.entries)
}

// Len returns the number of stored responses.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
