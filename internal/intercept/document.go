package intercept

import "sync"

// Document is an in-process event target. Physical input sources dispatch
// into it and the session and runtime register their handlers on it.
type Document struct {
	mu        sync.RWMutex
	listeners map[string][]Handler
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{listeners: make(map[string][]Handler)}
}

// AddEventListener registers h for event. Handlers run in registration
// order.
func (d *Document) AddEventListener(event string, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.listeners[event] = append(d.listeners[event], h)
	d.mu.Unlock()
}

// Dispatch delivers ev to every handler registered for its type and
// returns the number of handlers invoked. Handlers are called without the
// document lock held, so they may register further handlers.
func (d *Document) Dispatch(ev Event) int {
	d.mu.RLock()
	hs := append([]Handler{}, d.listeners[ev.Type()]...)
	d.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
	return len(hs)
}

// Listeners returns the number of handlers registered for event.
func (d *Document) Listeners(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[event])
}
