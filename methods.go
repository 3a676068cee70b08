package jsonrpc2

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// A Handler function implements a method. The context carries the endpoint
// that received the call and the inbound request metadata; see
// SessionFromContext, ClientFromContext, and InboundRequest.
//
// A handler reporting an error of concrete type *Error controls the code,
// message, and data sent back to the caller. Any other error is reported as
// a server error carrying the error text as data.
type Handler func(context.Context, *Request) (any, error)

// A MethodSet is a mutable mapping from method names to handlers, safe for
// concurrent use. The zero value is ready for use.
//
// Lookups are lock-free. A mutation concurrent with dispatch is permitted:
// each lookup observes either the old or the new mapping atomically.
type MethodSet struct {
	setMu sync.Mutex   // held by writers
	m     atomic.Value // of map[string]Handler
}

// Set registers h as the handler for name, replacing any existing
// registration. It panics if name == "" or h == nil.
func (ms *MethodSet) Set(name string, h Handler) {
	if name == "" {
		panic("empty method name")
	} else if h == nil {
		panic("nil method handler")
	}
	ms.update(func(m map[string]Handler) { m[name] = h })
}

// SetMap registers every entry of ext, replacing existing registrations with
// the same names. It panics on an empty name or nil handler in ext.
func (ms *MethodSet) SetMap(ext map[string]Handler) {
	for name, h := range ext {
		if name == "" {
			panic("empty method name")
		} else if h == nil {
			panic("nil method handler")
		}
	}
	ms.update(func(m map[string]Handler) {
		for name, h := range ext {
			m[name] = h
		}
	})
}

// Delete removes the registration for name, reporting whether one existed.
func (ms *MethodSet) Delete(name string) bool {
	ms.setMu.Lock()
	defer ms.setMu.Unlock()
	old, _ := ms.m.Load().(map[string]Handler)
	if _, ok := old[name]; !ok {
		return false
	}
	next := make(map[string]Handler, len(old))
	for n, h := range old {
		if n != name {
			next[n] = h
		}
	}
	ms.m.Store(next)
	return true
}

// Clear removes all registrations.
func (ms *MethodSet) Clear() {
	ms.setMu.Lock()
	defer ms.setMu.Unlock()
	ms.m.Store(map[string]Handler{})
}

// Get returns the handler registered for name, or nil.
func (ms *MethodSet) Get(name string) Handler {
	m, _ := ms.m.Load().(map[string]Handler)
	return m[name]
}

// Names returns a sorted slice of the registered method names.
func (ms *MethodSet) Names() []string {
	m, _ := ms.m.Load().(map[string]Handler)
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of registered methods.
func (ms *MethodSet) Len() int {
	m, _ := ms.m.Load().(map[string]Handler)
	return len(m)
}

// update applies edit to a copy of the current mapping and publishes the
// result.
func (ms *MethodSet) update(edit func(map[string]Handler)) {
	ms.setMu.Lock()
	defer ms.setMu.Unlock()
	old, _ := ms.m.Load().(map[string]Handler)
	next := make(map[string]Handler, len(old)+1)
	for name, h := range old {
		next[name] = h
	}
	edit(next)
	ms.m.Store(next)
}
