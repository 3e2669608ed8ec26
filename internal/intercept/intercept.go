// Package intercept captures event handler registrations on an event target
// so they can later be fed remapped events instead of the real ones.
//
// A Registry wraps a target in a Shim for the duration of a block. Code that
// registers handlers through the shim for one of the blocked event names has
// its handler captured; every other registration is forwarded to the wrapped
// target. Restore releases the shim, after which it forwards everything.
package intercept

import (
	"slices"
	"sync"
)

// Event is anything dispatched to a Handler.
type Event interface {
	Type() string
}

// Handler receives dispatched events.
type Handler func(Event)

// EventTarget accepts handler registrations. Implementations used as
// registry keys must be comparable; pointer receivers are the norm.
type EventTarget interface {
	AddEventListener(event string, h Handler)
}

// Registry tracks the blocked targets. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu      sync.Mutex
	blocked map[EventTarget]*Shim
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{blocked: make(map[EventTarget]*Shim)}
}

// Block wraps target so that registrations for the given event names are
// captured. Blocking a target that is already blocked restores it first;
// interceptions never nest.
func (r *Registry) Block(target EventTarget, events ...string) *Shim {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.restoreLocked(target)

	s := &Shim{
		original: target,
		events:   slices.Clone(events),
		captured: make(map[string][]Handler),
	}
	r.blocked[target] = s
	return s
}

// CapturedHandlers returns the handlers captured for event on target in
// registration order. The result is empty if nothing was captured or target
// was never blocked.
func (r *Registry) CapturedHandlers(target EventTarget, event string) []Handler {
	r.mu.Lock()
	s, ok := r.blocked[target]
	r.mu.Unlock()
	if !ok {
		return []Handler{}
	}
	return s.handlers(event)
}

// Blocked reports whether target is currently blocked.
func (r *Registry) Blocked(target EventTarget) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blocked[target]
	return ok
}

// Restore ends the block on target, discarding captured handlers, and
// returns the original target. It returns nil when target is not blocked.
func (r *Registry) Restore(target EventTarget) EventTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restoreLocked(target)
}

func (r *Registry) restoreLocked(target EventTarget) EventTarget {
	s, ok := r.blocked[target]
	if !ok {
		return nil
	}
	delete(r.blocked, target)
	s.release()
	return s.original
}

// Shim is the EventTarget handed out while a target is blocked.
type Shim struct {
	original EventTarget
	events   []string

	mu       sync.Mutex
	released bool
	captured map[string][]Handler
}

// AddEventListener captures h when event is blocked, otherwise forwards the
// registration to the original target unchanged.
func (s *Shim) AddEventListener(event string, h Handler) {
	s.mu.Lock()
	if !s.released && slices.Contains(s.events, event) {
		s.captured[event] = append(s.captured[event], h)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.original.AddEventListener(event, h)
}

// Original returns the wrapped target.
func (s *Shim) Original() EventTarget {
	return s.original
}

func (s *Shim) handlers(event string) []Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handler{}, s.captured[event]...)
}

func (s *Shim) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.captured = make(map[string][]Handler)
}
