// Package bus is a small in-process publish/subscribe primitive. Managers
// expose their events through a Bus instead of inheriting an emitter.
//
// Delivery is synchronous, in subscription order, to the handlers registered
// at the moment Emit is called.
package bus

import (
	"sync"
)

// Event is anything with a stable name. Handlers are registered per name.
type Event interface {
	EventName() string
}

type Handler func(Event)

type Subscription struct {
	name string
	id   uint64
}

type entry struct {
	id uint64
	fn Handler
}

type Bus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string][]entry
}

func New() *Bus {
	return &Bus{handlers: make(map[string][]entry)}
}

// Subscribe registers fn for events named name.
func (b *Bus) Subscribe(name string, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.handlers[name] = append(b.handlers[name], entry{id: b.next, fn: fn})
	return Subscription{name: name, id: b.next}
}

// On registers a typed handler. The event name is taken from T's zero value,
// so T must report a constant name.
func On[T Event](b *Bus, fn func(T)) Subscription {
	var zero T
	return b.Subscribe(zero.EventName(), func(e Event) {
		if v, ok := e.(T); ok {
			fn(v)
		}
	})
}

// Unsubscribe removes a handler. It reports false if it was already gone.
func (b *Bus) Unsubscribe(s Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[s.name]
	for i, e := range list {
		if e.id != s.id {
			continue
		}
		b.handlers[s.name] = append(list[:i:i], list[i+1:]...)
		if len(b.handlers[s.name]) == 0 {
			delete(b.handlers, s.name)
		}
		return true
	}
	return false
}

// Emit delivers e to every current subscriber of its name and returns how
// many handlers ran.
func (b *Bus) Emit(e Event) int {
	b.mu.RLock()
	list := b.handlers[e.EventName()]
	snapshot := make([]Handler, len(list))
	for i, h := range list {
		snapshot[i] = h.fn
	}
	b.mu.RUnlock()

	for _, fn := range snapshot {
		fn(e)
	}
	return len(snapshot)
}

func (b *Bus) Listeners(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]entry)
}
