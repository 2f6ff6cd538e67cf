// Package eventbus implements the playback engine's internal publish/
// subscribe hub (C1): subscribe, subscribeOnce, unsubscribe, emit, and
// removeAll over a closed set of engine event names. Delivery is
// synchronous, in subscription order, over a snapshot of the subscriber
// list so that a handler may itself subscribe or emit without deadlocking
// or corrupting iteration (§4.1).
package eventbus

import (
	"log/slog"
	"sync"
)

// Handler receives an event payload. Its concrete type is event-specific;
// callers type-assert based on the event name they subscribed to.
type Handler func(payload any)

// Unsubscribe removes the listener it was returned for. Calling it more
// than once is a no-op.
type Unsubscribe func()

type listener struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus is a typed-by-string-key event hub. The zero value is not usable;
// construct with New. A Bus is safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*listener
	nextID    uint64
	logger    *slog.Logger
}

// New creates an empty Bus. logger is used to report handler panics and
// errors without ever interrupting delivery to remaining handlers (§4.1).
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[string][]*listener),
		logger:    logger.With("component", "eventbus"),
	}
}

// Subscribe registers handler for event and returns a function that
// removes it. Handlers for the same event fire in subscription order.
func (b *Bus) Subscribe(event string, handler Handler) Unsubscribe {
	return b.add(event, handler, false)
}

// SubscribeOnce registers handler for event; it is automatically removed
// after its first invocation.
func (b *Bus) SubscribeOnce(event string, handler Handler) Unsubscribe {
	return b.add(event, handler, true)
}

func (b *Bus) add(event string, handler Handler, once bool) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	l := &listener{id: id, handler: handler, once: once}
	b.listeners[event] = append(b.listeners[event], l)
	b.mu.Unlock()

	var once2 sync.Once
	return func() {
		once2.Do(func() { b.remove(event, id) })
	}
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[event]
	for i, l := range ls {
		if l.id == id {
			b.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(b.listeners[event]) == 0 {
		delete(b.listeners, event)
	}
}

// Unsubscribe removes every listener previously added for event via its
// returned Unsubscribe. It is equivalent to calling each of them but is
// provided for callers that did not retain the individual handles.
func (b *Bus) Unsubscribe(event string) {
	b.mu.Lock()
	delete(b.listeners, event)
	b.mu.Unlock()
}

// RemoveAll removes every listener for event, or for every event if event
// is empty (§4.1: `removeAll(event?)`).
func (b *Bus) RemoveAll(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event == "" {
		b.listeners = make(map[string][]*listener)
		return
	}
	delete(b.listeners, event)
}

// Emit delivers payload to every listener currently subscribed to event,
// in subscription order, over a snapshot taken under lock so that a
// handler may subscribe, unsubscribe, or emit without racing iteration
// (§4.1). A handler panic is recovered and logged; it never prevents
// delivery to the remaining handlers.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	snapshot := make([]*listener, len(b.listeners[event]))
	copy(snapshot, b.listeners[event])
	b.mu.RUnlock()

	var onceFired []uint64
	for _, l := range snapshot {
		b.dispatch(event, l, payload)
		if l.once {
			onceFired = append(onceFired, l.id)
		}
	}
	for _, id := range onceFired {
		b.remove(event, id)
	}
}

func (b *Bus) dispatch(event string, l *listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", event,
				"panic", r,
			)
		}
	}()
	l.handler(payload)
}
