package session

import (
	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/protocol"
)

type bindingPhase int

const (
	bindingUnbound bindingPhase = iota
	bindingAwaitingCache
	bindingBound
	bindingInvalidated
)

// binding is the protocol attached to a task. While a cache lookup is in
// flight, requests for the protocol queue up in pending.
type binding struct {
	phase   bindingPhase
	p       protocol.Protocol
	pending []func(protocol.Protocol)
}

// withProtocol calls fn with the task's protocol, creating it on first
// use. fn receives nil once the task has completed or when no protocol
// can serve it. fn may run on another goroutine.
func (t *Task) withProtocol(fn func(protocol.Protocol)) {
	t.protoMu.Lock()

	switch t.binding.phase {
	case bindingUnbound:
		if t.usesCache() {
			t.binding = binding{phase: bindingAwaitingCache, pending: []func(protocol.Protocol){fn}}
			t.protoMu.Unlock()

			t.s.cache.CachedResponse(t.CurrentRequest(), func(c *cache.CachedResponse) {
				t.satisfyBinding(t.newProtocol(c))
			})
			return
		}

		p := t.newProtocol(nil)
		t.binding = binding{phase: bindingBound, p: p}
		t.protoMu.Unlock()
		fn(p)

	case bindingAwaitingCache:
		t.binding.pending = append(t.binding.pending, fn)
		t.protoMu.Unlock()

	case bindingBound:
		p := t.binding.p
		t.protoMu.Unlock()
		fn(p)

	default:
		t.protoMu.Unlock()
		fn(nil)
	}
}

// satisfyBinding ends a cache lookup and releases the queued requests.
func (t *Task) satisfyBinding(p protocol.Protocol) {
	t.protoMu.Lock()
	pending := t.binding.pending
	if t.binding.phase == bindingAwaitingCache {
		t.binding = binding{phase: bindingBound, p: p}
	} else {
		p = nil
	}
	t.protoMu.Unlock()

	for _, fn := range pending {
		fn(p)
	}
}

// rebind replaces the bound protocol, as an authentication retry does.
func (t *Task) rebind(p protocol.Protocol) {
	t.protoMu.Lock()
	defer t.protoMu.Unlock()
	t.binding = binding{phase: bindingBound, p: p}
}

func (t *Task) invalidateBinding() {
	t.protoMu.Lock()
	defer t.protoMu.Unlock()
	t.binding = binding{phase: bindingInvalidated}
}

// isBound reports whether p is the task's current protocol. Events from
// any other protocol are stale.
func (t *Task) isBound(p protocol.Protocol) bool {
	t.protoMu.Lock()
	defer t.protoMu.Unlock()
	return t.binding.phase == bindingBound && t.binding.p == p
}

func (t *Task) usesCache() bool {
	return t.s.cache != nil && t.kind == KindData && !t.invalid
}

// newProtocol asks the session's factories for a protocol. It returns nil
// for tasks no factory can serve.
func (t *Task) newProtocol(cached *cache.CachedResponse) protocol.Protocol {
	if t.invalid {
		return nil
	}

	req := t.CurrentRequest()
	for _, f := range t.s.factories {
		if f.CanInit(req) {
			return f.New(t, cached, &protocolClient{s: t.s, t: t})
		}
	}

	return nil
}
