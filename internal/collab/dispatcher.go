package collab

import (
	"sync"

	"github.com/yanun0323/logs"
)

// Handler receives dispatched events. Handlers run synchronously on the
// emitting goroutine, in registration order.
type Handler func(Event)

// Subscription identifies one registered handler for later removal.
type Subscription struct {
	kind string
	id   uint64
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Dispatcher is the typed publish/subscribe registry decoupling the transport
// from its consumers.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]handlerEntry
}

// NewDispatcher allocates an empty registry.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]handlerEntry)}
}

// On registers a handler under an event kind.
func (d *Dispatcher) On(kind string, fn Handler) Subscription {
	if fn == nil {
		return Subscription{}
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[kind] = append(d.handlers[kind], handlerEntry{id: id, fn: fn})
	d.mu.Unlock()

	return Subscription{kind: kind, id: id}
}

// Off removes exactly the handler identified by sub.
func (d *Dispatcher) Off(sub Subscription) {
	if sub.id == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[sub.kind]
	for i, entry := range list {
		if entry.id == sub.id {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(d.handlers, sub.kind)
			} else {
				d.handlers[sub.kind] = list
			}
			return
		}
	}
}

// OffKind removes every handler registered under kind.
func (d *Dispatcher) OffKind(kind string) {
	d.mu.Lock()
	delete(d.handlers, kind)
	d.mu.Unlock()
}

// Emit invokes every handler for kind in registration order. A panicking
// handler is recovered and logged so siblings and the emitter keep running.
func (d *Dispatcher) Emit(kind string, event Event) {
	d.mu.RLock()
	list := d.handlers[kind]
	snapshot := make([]handlerEntry, len(list))
	copy(snapshot, list)
	d.mu.RUnlock()

	for _, entry := range snapshot {
		d.invoke(kind, entry.fn, event)
	}
}

func (d *Dispatcher) invoke(kind string, fn Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("event handler panic, kind: %s, err: %+v", kind, r)
		}
	}()
	fn(event)
}

// Clear drops every registered handler.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.handlers = make(map[string][]handlerEntry)
	d.mu.Unlock()
}
